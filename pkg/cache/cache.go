package cache

import (
	"sync"
	"time"
)

type cacheItem[T any] struct {
	value      T
	expiration time.Time
}

// Cache is a thread-safe TTL cache bounded by entry count.
// It is parameterised on value type so it can hold participants, endpoints, keys, etc.
// When full, Put evicts the entry closest to expiry.
type Cache[T any] struct {
	mu         sync.RWMutex
	data       map[string]cacheItem[T]
	ttl        time.Duration
	maxEntries int
}

// New creates a TTL cache. maxEntries <= 0 means unbounded.
func New[T any](defaultTTL time.Duration, maxEntries int) *Cache[T] {
	return &Cache[T]{
		data:       make(map[string]cacheItem[T]),
		ttl:        defaultTTL,
		maxEntries: maxEntries,
	}
}

// Get returns a cached value if present and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	item, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	if time.Now().After(item.expiration) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		var zero T
		return zero, false
	}
	return item.value, true
}

// Put inserts or overwrites a cache entry with TTL.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.evictOne()
	}
	c.data[key] = cacheItem[T]{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}
}

// Bust deletes a single entry from the cache.
func (c *Cache[T]) Bust(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included until cleaned.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// StartCleaner periodically removes expired cache entries.
func (c *Cache[T]) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-stop:
			return
		}
	}
}

func (c *Cache[T]) cleanupExpired() {
	now := time.Now()
	c.mu.Lock()
	for k, v := range c.data {
		if now.After(v.expiration) {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()
}

// evictOne drops the entry closest to expiry. Caller holds the write lock.
func (c *Cache[T]) evictOne() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for k, v := range c.data {
		if !found || v.expiration.Before(oldest) {
			victim, oldest, found = k, v.expiration, true
		}
	}
	if found {
		delete(c.data, victim)
	}
}
