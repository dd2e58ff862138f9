package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/livetemplate/tinkerpen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T, storage Storage) *Store {
	t.Helper()
	s := New(storage, zaptest.NewLogger(t))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	s := newTestStore(t, NewMemoryStorage(tinkerpen.DefaultNamespace))

	docs := s.Load(context.Background())
	assert.True(t, docs.Equal(tinkerpen.DefaultDocuments()))
}

func TestLoadFallsBackOnMalformedData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"wrong shape", `{"id":"1"}`},
		{"empty array", `[]`},
		{"unknown language", `[{"id":"1","name":"a.py","language":"python","content":""}]`},
		{"duplicate ids", `[{"id":"1","language":"html"},{"id":"1","language":"css"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemoryStorage(tinkerpen.DefaultNamespace)
			mem.Seed([]byte(tt.data))
			s := newTestStore(t, mem)

			docs := s.Load(context.Background())
			assert.True(t, docs.Equal(tinkerpen.DefaultDocuments()))
		})
	}
}

func TestLoadStoredDocuments(t *testing.T) {
	stored := tinkerpen.Set{
		{ID: "a", Name: "page.html", Language: tinkerpen.Markup, Content: "<p>hi</p>"},
		{ID: "b", Name: "app.js", Language: tinkerpen.Script, Content: "1+1"},
	}
	data, err := Encode(stored)
	require.NoError(t, err)

	mem := NewMemoryStorage(tinkerpen.DefaultNamespace)
	mem.Seed(data)
	s := newTestStore(t, mem)

	assert.True(t, s.Load(context.Background()).Equal(stored))
	assert.True(t, s.Documents().Equal(stored))
}

func TestCommitPersistsAndNotifies(t *testing.T) {
	mem := NewMemoryStorage(tinkerpen.DefaultNamespace)
	s := newTestStore(t, mem)
	s.Load(context.Background())

	var mu sync.Mutex
	var seen []Snapshot
	cancel := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})
	defer cancel()

	changed, err := s.Update("3", `console.log("x")`)
	require.NoError(t, err)
	assert.True(t, changed)

	// Same content again is not a change.
	changed, err = s.Update("3", `console.log("x")`)
	require.NoError(t, err)
	assert.False(t, changed)

	s.Flush()

	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, `console.log("x")`, seen[0].Documents.PrimaryContent(tinkerpen.Script))
	mu.Unlock()

	data, found, err := mem.ReadAll(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	persisted, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, persisted.Equal(s.Documents()))
}

func TestUpdateUnknownDocument(t *testing.T) {
	s := newTestStore(t, NewMemoryStorage(tinkerpen.DefaultNamespace))
	s.Load(context.Background())

	_, err := s.Update("nope", "x")
	assert.ErrorIs(t, err, tinkerpen.ErrDocumentNotFound)
}

func TestConcurrentUpdatesKeepEveryEdit(t *testing.T) {
	s := newTestStore(t, NewMemoryStorage(tinkerpen.DefaultNamespace))
	s.Load(context.Background())
	ids := []string{"1", "2", "3"}

	for i := 0; i < 500; i++ {
		s.Commit(tinkerpen.DefaultDocuments())

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := s.Update(id, "edited-"+id)
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		docs := s.Documents()
		for _, id := range ids {
			doc, ok := docs.Find(id)
			require.True(t, ok)
			require.Equal(t, "edited-"+id, doc.Content, "iteration %d lost the edit of %s", i, id)
		}
	}
	s.Flush()
}

func TestModifyError(t *testing.T) {
	s := newTestStore(t, NewMemoryStorage(tinkerpen.DefaultNamespace))
	s.Load(context.Background())
	before := s.Snapshot()

	changed, err := s.Modify(func(tinkerpen.Set) (tinkerpen.Set, error) {
		return nil, errors.New("rejected")
	})
	assert.EqualError(t, err, "rejected")
	assert.False(t, changed)
	assert.Equal(t, before.Version, s.Snapshot().Version)
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	mem := NewMemoryStorage(tinkerpen.DefaultNamespace)
	mem.FailWrites(errors.New("disk on fire"))
	s := newTestStore(t, mem)
	s.Load(context.Background())

	changed, err := s.Update("1", "<p>still here</p>")
	require.NoError(t, err)
	require.True(t, changed)
	s.Flush()

	// In-memory state stays authoritative.
	assert.Equal(t, "<p>still here</p>", s.Documents().PrimaryContent(tinkerpen.Markup))
	assert.Zero(t, mem.Writes())
}

func TestQuotaExceededIsSwallowed(t *testing.T) {
	mem := NewMemoryStorage(tinkerpen.DefaultNamespace)
	mem.SetQuota(10)
	s := newTestStore(t, mem)
	s.Load(context.Background())

	_, err := s.Update("2", "body { color: red; }")
	require.NoError(t, err)
	s.Flush()

	assert.Equal(t, "body { color: red; }", s.Documents().PrimaryContent(tinkerpen.Style))
	assert.Zero(t, mem.Writes())
}

func TestLatestSnapshotWins(t *testing.T) {
	mem := NewMemoryStorage(tinkerpen.DefaultNamespace)
	s := newTestStore(t, mem)
	s.Load(context.Background())

	for _, content := range []string{"a", "b", "c", "d"} {
		_, err := s.Update("3", content)
		require.NoError(t, err)
	}
	s.Flush()

	data, _, err := mem.ReadAll(context.Background())
	require.NoError(t, err)
	persisted, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "d", persisted.PrimaryContent(tinkerpen.Script))
}

func TestFileStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir, "editorFiles")
	require.NoError(t, err)

	_, found, err := fs.ReadAll(context.Background())
	require.NoError(t, err)
	assert.False(t, found)

	s := newTestStore(t, fs)
	s.Load(context.Background())
	_, err = s.Update("1", "<h1>saved</h1>")
	require.NoError(t, err)
	s.Flush()

	assert.FileExists(t, filepath.Join(dir, "editorFiles.json"))

	reloaded := newTestStore(t, fs)
	docs := reloaded.Load(context.Background())
	assert.Equal(t, "<h1>saved</h1>", docs.PrimaryContent(tinkerpen.Markup))
}

func TestFileStorageCorruptFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "editorFiles.json"), []byte("garbage"), 0o644))

	fs, err := NewFileStorage(dir, "editorFiles")
	require.NoError(t, err)
	s := newTestStore(t, fs)

	assert.True(t, s.Load(context.Background()).Equal(tinkerpen.DefaultDocuments()))
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(NewMemoryStorage(tinkerpen.DefaultNamespace), nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// Commits after close still update memory and do not block.
	s.Load(context.Background())
	_, err := s.Update("1", "x")
	require.NoError(t, err)
	s.Flush()
}
