package cache

import (
	"context"
	"sync"
	"time"
)

type memItem struct {
	val     []byte
	expires time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read and in bulk once the map grows past maxEntries.
type Memory struct {
	mu         sync.Mutex
	items      map[string]memItem
	maxEntries int
	now        func() time.Time
}

// NewMemory returns a Memory cache holding at most maxEntries live keys
// (0 means 10000).
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Memory{
		items:      make(map[string]memItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a live value for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(it.expires) {
		delete(m.items, key)
		return nil, false
	}
	return it.val, true
}

// Set stores val for ttl. Non-positive ttls are ignored.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	buf := make([]byte, len(val))
	copy(buf, val)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.items) >= m.maxEntries {
		for k, it := range m.items {
			if !now.Before(it.expires) {
				delete(m.items, k)
			}
		}
		// still full: evict arbitrary keys
		for k := range m.items {
			if len(m.items) < m.maxEntries {
				break
			}
			delete(m.items, k)
		}
	}
	m.items[key] = memItem{val: buf, expires: now.Add(ttl)}
}

// Len returns the number of stored entries, live or not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
