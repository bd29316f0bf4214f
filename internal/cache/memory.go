package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process LRU cache. Every entry lives at most the ttl given
// to NewMemory; a shorter ttl passed to Set is honoured on read.
type Memory struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemory returns a cache holding at most maxEntries values for at most
// ttl each. A zero ttl keeps entries until they are evicted.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

// Get returns a copy of the cached value when present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores value under key, evicting the least recently used entry when
// full.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, entry)
	return nil
}

// Len reports how many entries are held, expired ones included until purged.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
