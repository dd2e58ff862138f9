// Package store holds the playground's document set and persists it to
// durable storage on a best-effort basis.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Storage is durable storage bound to a single namespace key.
type Storage interface {
	// ReadAll returns the serialized document set. found is false when
	// nothing has been written under the namespace yet.
	ReadAll(ctx context.Context) (data []byte, found bool, err error)

	// WriteAll replaces the serialized document set.
	WriteAll(ctx context.Context, data []byte) error

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}

// ErrQuotaExceeded is returned by storages that enforce a size limit.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// StorageError records which backend operation failed.
type StorageError struct {
	Backend string
	Op      string // "read" or "write"
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MemoryStorage keeps serialized sets in process memory.
type MemoryStorage struct {
	mu        sync.Mutex
	namespace string
	data      map[string][]byte
	quota     int   // max bytes per write, 0 = unlimited
	writeErr  error // forced write failure
	writes    int
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage(namespace string) *MemoryStorage {
	return &MemoryStorage{
		namespace: namespace,
		data:      make(map[string][]byte),
	}
}

// SetQuota limits the size of a single write; 0 removes the limit.
func (m *MemoryStorage) SetQuota(bytes int) {
	m.mu.Lock()
	m.quota = bytes
	m.mu.Unlock()
}

// FailWrites makes every subsequent write return err (nil to recover).
func (m *MemoryStorage) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Seed stores raw data under the namespace, bypassing quota and failures.
func (m *MemoryStorage) Seed(data []byte) {
	m.mu.Lock()
	m.data[m.namespace] = append([]byte(nil), data...)
	m.mu.Unlock()
}

// Writes returns how many writes succeeded.
func (m *MemoryStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStorage) ReadAll(ctx context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[m.namespace]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryStorage) WriteAll(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.quota > 0 && len(data) > m.quota {
		return ErrQuotaExceeded
	}
	m.data[m.namespace] = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *MemoryStorage) Name() string { return "memory" }

func (m *MemoryStorage) Close() error { return nil }
