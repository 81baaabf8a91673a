// Package memory contains a ttl byte cache backing the cache middleware.
package memory

import (
	"sync"
	"time"
)

type item struct {
	content   []byte
	expiresAt time.Time
}

// Cache ...
type Cache struct {
	mu    sync.Mutex
	items map[string]item
}

// NewCache creates new instance of Cache.
func NewCache() *Cache {
	return &Cache{
		items: make(map[string]item),
	}
}

// Get returns the cached content for key, or nil if absent or expired.
func (c *Cache) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items[key]
	if !ok {
		return nil
	}

	if time.Now().After(v.expiresAt) {
		delete(c.items, key)
		return nil
	}

	return v.content
}

// Set stores content under key for ttl.
func (c *Cache) Set(key string, content []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item{
		content:   content,
		expiresAt: time.Now().Add(ttl),
	}
}
