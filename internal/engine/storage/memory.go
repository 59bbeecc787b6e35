package storage

import (
	"context"
	"sync"
)

// MemoryAdapter is a process-local [Adapter] backed by a map. It is the
// default adapter for databases opened without a file path, and is what
// the engine's own test suite uses to exercise persistence behavior
// without touching a filesystem.
type MemoryAdapter struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{data: make(map[string][]byte)}
}

func (a *MemoryAdapter) Read(_ context.Context, path string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[path]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (a *MemoryAdapter) Write(_ context.Context, path string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	a.data[path] = cp
	return nil
}

func (a *MemoryAdapter) Append(_ context.Context, path string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append(a.data[path], data...)
	return nil
}

func (a *MemoryAdapter) Exists(_ context.Context, path string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.data[path]
	return ok, nil
}

func (a *MemoryAdapter) Remove(_ context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, path)
	return nil
}

func (a *MemoryAdapter) EnsureDir(_ context.Context, _ string) error { return nil }

// Watch is a no-op: an in-memory adapter has no external writer to watch
// for. It returns a no-op unsubscribe so callers can treat every adapter
// uniformly.
func (a *MemoryAdapter) Watch(_ context.Context, _ string, _ func()) (func(), error) {
	return func() {}, nil
}
