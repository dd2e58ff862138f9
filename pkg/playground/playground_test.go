package playground

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/sandbox"
	"github.com/livetemplate/tinkerpen/internal/store"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backend
	cfg.Storage.Dir = t.TempDir()
	return cfg
}

func TestOpenStorage(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{config.BackendMemory, "memory"},
		{config.BackendFile, "file"},
		{config.BackendDir, "dir"},
		{config.BackendSQLite, "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			storage, err := OpenStorage(context.Background(), testConfig(t, tt.backend))
			require.NoError(t, err)
			defer storage.Close()
			assert.Equal(t, tt.want, storage.Name())
		})
	}
}

func TestOpenStorageErrors(t *testing.T) {
	_, err := OpenStorage(context.Background(), testConfig(t, config.BackendPostgres))
	assert.ErrorContains(t, err, "dsn is required")

	_, err = OpenStorage(context.Background(), testConfig(t, "tape"))
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestNewRunner(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Nil(t, NewRunner(cfg, nil))

	cfg.Sandbox.Mode = config.SandboxHeadless
	_, ok := NewRunner(cfg, nil).(*sandbox.HeadlessRunner)
	assert.True(t, ok)
}

func TestOpenValidates(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorContains(t, err, "config is required")

	cfg := testConfig(t, config.BackendFile)
	cfg.Storage.Watch = true
	_, err = Open(context.Background(), Options{Config: cfg})
	assert.ErrorContains(t, err, "invalid config")
}

func TestOpenWithWatch(t *testing.T) {
	cfg := testConfig(t, config.BackendDir)
	cfg.Storage.Watch = true

	p, err := Open(context.Background(), Options{Config: cfg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestServeLifecycle(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	storage := store.NewMemoryStorage("test")

	p, err := Open(context.Background(), Options{
		Config:  cfg,
		Logger:  zaptest.NewLogger(t),
		Storage: storage,
	})
	require.NoError(t, err)
	defer p.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- p.Serve(ctx, l, func(addr string) { ready <- addr })
	}()

	addr := <-ready
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestOpenSQLiteUsesDataDir(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)

	p, err := Open(context.Background(), Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.FileExists(t, filepath.Join(cfg.Storage.Dir, "tinkerpen.db"))
}
