// Package cache stores rendered terminology results keyed by snapshot
// version, in Redis or in process.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// ResultCache is the byte-oriented cache used by the terminology service.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a ResultCache backed by an LRU.
type MemoryCache struct {
	lru *LRU[string, memoryItem]
	now func() time.Time
}

func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{lru: NewLRU[string, memoryItem](capacity), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	item, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		m.lru.Delete(key)
		return nil, ErrCacheMiss
	}
	return item.value, nil
}

// Set stores a copy of value. A zero ttl never expires.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.lru.Set(key, item)
	return nil
}

func (m *MemoryCache) Clear(context.Context) error {
	m.lru.Clear()
	return nil
}

func (m *MemoryCache) Stats() Stats {
	return m.lru.Stats()
}
