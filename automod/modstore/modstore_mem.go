package modstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore returns a store that lives only in process memory.
func NewMemStore() *Store {
	return newStore(&memBackend{data: make(map[string][]byte)})
}

func (m *memBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) set(ctx context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), val...)
	return nil
}

func (m *memBackend) del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBackend) scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	m.mu.RLock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	vals := make(map[string][]byte, len(keys))
	for _, k := range keys {
		vals[k] = m.data[k]
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, vals[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memBackend) close() error {
	return nil
}
