package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/livetemplate/tinkerpen"
)

// DirStorage keeps one file per document plus a manifest, so the documents
// can be opened with any editor. The manifest (<namespace>.json) records the
// order, ids, names and languages; file contents are the document contents.
type DirStorage struct {
	dir      string
	manifest string

	mu          sync.Mutex
	lastWritten map[string]string // absolute path -> content we wrote
	byPath      map[string]string // absolute path -> document id
}

type manifestEntry struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Language tinkerpen.Language `json:"language"`
	File     string             `json:"file"`
}

// NewDirStorage creates dir if needed.
func NewDirStorage(dir, namespace string) (*DirStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &DirStorage{
		dir:         abs,
		manifest:    filepath.Join(abs, namespace+".json"),
		lastWritten: make(map[string]string),
		byPath:      make(map[string]string),
	}, nil
}

// Dir returns the directory the documents live in.
func (d *DirStorage) Dir() string { return d.dir }

func (d *DirStorage) ReadAll(ctx context.Context) ([]byte, bool, error) {
	raw, err := os.ReadFile(d.manifest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to parse manifest: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	docs := make(tinkerpen.Set, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(d.dir, e.File)
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, false, err
		}
		d.byPath[path] = e.ID
		d.lastWritten[path] = string(content)
		docs = append(docs, tinkerpen.Document{
			ID:       e.ID,
			Name:     e.Name,
			Language: e.Language,
			Content:  string(content),
		})
	}

	data, err := json.Marshal(docs)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (d *DirStorage) WriteAll(ctx context.Context, data []byte) error {
	var docs tinkerpen.Set
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("failed to decode documents: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]manifestEntry, 0, len(docs))
	for _, doc := range docs {
		file := d.fileName(doc)
		path := filepath.Join(d.dir, file)
		if prev, ok := d.lastWritten[path]; !ok || prev != doc.Content {
			// Record before writing so the watcher sees our own write as known.
			d.lastWritten[path] = doc.Content
			if err := writeFileAtomic(path, []byte(doc.Content)); err != nil {
				delete(d.lastWritten, path)
				return err
			}
		}
		d.byPath[path] = doc.ID
		entries = append(entries, manifestEntry{ID: doc.ID, Name: doc.Name, Language: doc.Language, File: file})
	}

	manifest, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(d.manifest, manifest)
}

// ReadExternal reads a changed document file. external is false when the
// path is not a document or its content is what this storage last wrote.
func (d *DirStorage) ReadExternal(path string) (id, content string, external bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byPath[abs]
	if !ok {
		return "", "", false, nil
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", "", false, err
	}
	content = string(raw)
	if d.lastWritten[abs] == content {
		return id, content, false, nil
	}
	d.lastWritten[abs] = content
	return id, content, true, nil
}

// fileName picks the on-disk name for a document. Names that would escape
// the directory or collide with the manifest fall back to the id.
func (d *DirStorage) fileName(doc tinkerpen.Document) string {
	name := doc.Name
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") ||
		filepath.Join(d.dir, name) == d.manifest {
		name = doc.ID + extension(doc.Language)
	}
	return name
}

func extension(lang tinkerpen.Language) string {
	switch lang {
	case tinkerpen.Markup:
		return ".html"
	case tinkerpen.Style:
		return ".css"
	case tinkerpen.Script:
		return ".js"
	}
	return ".txt"
}

func (d *DirStorage) Name() string { return "dir" }

func (d *DirStorage) Close() error { return nil }
