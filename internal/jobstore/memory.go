package jobstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests and single-shot CLI
// runs. Same semantics as the Redis store, no durability.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry

	now func() time.Time // test hook
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) getLocked(key string) ([]byte, bool) {
	entry, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		delete(m.items, key)
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.items[key] = entry
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.getLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := m.getLocked(key); ok {
			out[key] = append([]byte(nil), value...)
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, patch func([]byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.getLocked(key)
	if !ok {
		return ErrNotFound
	}
	next, err := patch(append([]byte(nil), current...))
	if err != nil {
		return err
	}
	entry := memoryEntry{value: next}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.items[key] = entry
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) DeleteMulti(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.items {
		if _, ok := m.getLocked(key); !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }
