package persistence

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps blobs in a map. Data is lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// SaveData implements Store.
func (m *Memory) SaveData(_ context.Context, key string, data []byte) error {
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cp
	return nil
}

// LoadData implements Store.
func (m *Memory) LoadData(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
