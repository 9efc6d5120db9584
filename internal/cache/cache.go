// Package cache implements the bounded LRU value cache in front of the
// engine's read path. Capacity 0 disables caching entirely.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU from key to decoded value. A zero-capacity
// Cache is a permanent no-op, per spec.
type Cache struct {
	inner *lru.Cache[string, string]
}

// New returns a cache with the given capacity. capacity <= 0 disables
// caching.
func New(capacity int) *Cache {
	if capacity <= 0 {
		return &Cache{}
	}
	inner, err := lru.New[string, string](capacity)
	if err != nil {
		// Only invalid (non-positive) sizes error, and that's excluded
		// above.
		panic(err)
	}
	return &Cache{inner: inner}
}

// Get returns the cached value for key, touching its recency.
func (c *Cache) Get(key string) (string, bool) {
	if c.inner == nil {
		return "", false
	}
	return c.inner.Get(key)
}

// Put installs or updates key's cached value, touching its recency.
func (c *Cache) Put(key, value string) {
	if c.inner == nil {
		return
	}
	c.inner.Add(key, value)
}

// Remove evicts key, if present.
func (c *Cache) Remove(key string) {
	if c.inner == nil {
		return
	}
	c.inner.Remove(key)
}

// Clear drops every cached entry, used after compaction.
func (c *Cache) Clear() {
	if c.inner == nil {
		return
	}
	c.inner.Purge()
}
