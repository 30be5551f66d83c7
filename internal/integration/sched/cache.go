package sched

import (
	"sync"
	"time"
)

// Cache is a TTL cache.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]cacheItem[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// CacheOption configures a Cache.
type CacheOption[K comparable, V any] func(*Cache[K, V])

// WithMaxSize bounds the number of entries; the entry closest to expiry is
// evicted to make room.
func WithMaxSize[K comparable, V any](size int) CacheOption[K, V] {
	return func(c *Cache[K, V]) {
		c.maxSize = size
	}
}

// NewCache creates a cache whose entries live for ttl after their last Set.
func NewCache[K comparable, V any](ttl time.Duration, opts ...CacheOption[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]cacheItem[V]),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || c.now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set stores value under key, refreshing its expiry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.items[key] = cacheItem[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Range calls fn for every live entry until fn returns false.
// fn must not modify the cache.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, item := range c.items {
		if now.After(item.expiresAt) {
			continue
		}
		if !fn(k, item.value) {
			return
		}
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Cleanup removes expired entries and returns how many were removed.
func (c *Cache[K, V]) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// evictOldestLocked removes the entry with the soonest expiry.
func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey  K
		oldestTime time.Time
		found      bool
	)
	for k, item := range c.items {
		if !found || item.expiresAt.Before(oldestTime) {
			oldestKey, oldestTime, found = k, item.expiresAt, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}
