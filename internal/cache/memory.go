package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMemoryItems = 1024
	defaultMemoryTTL   = 15 * time.Minute
)

// MemoryCache is a bounded, TTL-expiring LRU cache keyed by string.
type MemoryCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewMemoryCache creates a cache holding at most size entries for ttl each.
// Non-positive arguments fall back to defaults.
func NewMemoryCache[V any](size int, ttl time.Duration) *MemoryCache[V] {
	if size <= 0 {
		size = defaultMemoryItems
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &MemoryCache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value for key.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Remove drops key from the cache.
func (c *MemoryCache[V]) Remove(key string) {
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *MemoryCache[V]) Len() int {
	return c.lru.Len()
}

// Purge empties the cache.
func (c *MemoryCache[V]) Purge() {
	c.lru.Purge()
}
