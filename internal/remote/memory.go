// Package remote implements the off-site object store backends.
package remote

import (
	"context"
	"fmt"
	"io"
	"sync"

	"backhaul/internal/core"
)

// MemoryRemote is an in-memory implementation of core.Remote, useful for
// testing. It is safe for concurrent use.
type MemoryRemote struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    map[string]int
}

// NewMemoryRemote creates an empty in-memory remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		objects: make(map[string][]byte),
		puts:    make(map[string]int),
	}
}

// Put stores size bytes from r under key.
func (m *MemoryRemote) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts[key]++
	return nil
}

// Validate always succeeds for the in-memory remote.
func (m *MemoryRemote) Validate(context.Context) error { return nil }

// Object returns the stored bytes for key and whether the key exists.
func (m *MemoryRemote) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

// PutCount returns how many times key has been stored.
func (m *MemoryRemote) PutCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[key]
}

// Len returns the number of stored objects.
func (m *MemoryRemote) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Compile-time check that MemoryRemote implements core.Remote.
var _ core.Remote = (*MemoryRemote)(nil)
