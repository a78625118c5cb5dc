// Package memcache provides the fastest-tier volatile cache. Every value held
// here must be reconstructable from the durable store or the network; the
// cache is never the sole source of truth.
package memcache

import (
	"sync"
	"time"
)

// Entry is a cached value with its write timestamp.
type Entry struct {
	Data      interface{}
	Timestamp time.Time
}

// Cache is a process-lifetime key/value cache. Construct one and pass it by
// reference; it is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the entry for key, or ok=false when absent.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Set stores data under key, always overwriting and stamping the current time.
func (c *Cache) Set(key string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Data: data, Timestamp: time.Now()}
}

// Clear drops every entry. Used on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
