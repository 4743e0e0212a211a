package storage

import (
	"context"
	"sync"
)

// MemoryStorage is a non-durable Storage for tests and throwaway sessions.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemory returns a MemoryStorage seeded with the given entries.
func NewMemory(seed map[string]string) *MemoryStorage {
	m := &MemoryStorage{entries: make(map[string]string, len(seed))}
	for k, v := range seed {
		m.entries[k] = v
	}
	return m
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	m.entries[key] = value
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Snapshot returns a copy of all entries.
func (m *MemoryStorage) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}
