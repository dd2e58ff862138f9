package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStorage persists the serialized set as <dir>/<namespace>.json.
type FileStorage struct {
	path string
}

// NewFileStorage creates dir if needed and returns a storage inside it.
func NewFileStorage(dir, namespace string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStorage{path: filepath.Join(dir, namespace+".json")}, nil
}

// Path returns the file the set is stored in.
func (f *FileStorage) Path() string { return f.path }

func (f *FileStorage) ReadAll(ctx context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (f *FileStorage) WriteAll(ctx context.Context, data []byte) error {
	return writeFileAtomic(f.path, data)
}

func (f *FileStorage) Name() string { return "file" }

func (f *FileStorage) Close() error { return nil }

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers never observe a partial document set.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
