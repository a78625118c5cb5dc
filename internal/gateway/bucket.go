// Package gateway implements the network cache layer: named response buckets,
// per-resource-class caching policy, an offline fallback page, and the
// page-facing message protocol.
package gateway

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// CachedResponse is one stored HTTP response.
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Bucket is a named cache of responses keyed by request URL.
type Bucket struct {
	name    string
	mu      sync.RWMutex
	entries map[string]CachedResponse
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Match returns the cached response for key, or ok=false on a miss.
func (b *Bucket) Match(key string) (CachedResponse, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	resp, ok := b.entries[key]
	return resp, ok
}

// Put stores a response under key, replacing any previous entry.
func (b *Bucket) Put(key string, resp CachedResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = resp
}

// Delete removes a single entry.
func (b *Bucket) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len returns the number of cached responses.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Registry holds every live cache bucket. Buckets are shared state; the
// registry serializes structural changes while each bucket guards its own
// entries.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*Bucket)}
}

// Open returns the named bucket, creating it if needed.
func (r *Registry) Open(name string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[name]
	if !ok {
		b = &Bucket{name: name, entries: make(map[string]CachedResponse)}
		r.buckets[name] = b
	}
	return b
}

// Names returns every bucket name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.buckets))
	for name := range r.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes a bucket and all its entries.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.buckets[name]; !ok {
		return false
	}
	delete(r.buckets, name)
	return true
}

// DeleteAll removes every bucket. Returns how many were dropped.
func (r *Registry) DeleteAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.buckets)
	r.buckets = make(map[string]*Bucket)
	return n
}
