// Package reader implements the stale-while-revalidate read path over the
// memory cache: cache hits answer immediately and refresh in the background,
// cache misses block on the fetcher.
package reader

import (
	"context"
	"time"

	"github.com/kychiang/studydeck/internal/logging"
	"github.com/kychiang/studydeck/internal/memcache"
)

// revalidateTimeout bounds a background refresh once it is detached from the
// triggering request.
const revalidateTimeout = 30 * time.Second

// Fetcher loads the fresh value for a key, usually from the network.
type Fetcher func(ctx context.Context) (interface{}, error)

// Result is a read-path answer.
type Result struct {
	Data interface{}
	// FromCache marks a value served from the memory cache; a background
	// revalidation may still replace it via the update callback.
	FromCache bool
}

// Loader produces cached-or-fetched values for keys.
type Loader struct {
	cache *memcache.Cache
}

// NewLoader creates a Loader over the given cache.
func NewLoader(cache *memcache.Cache) *Loader {
	return &Loader{cache: cache}
}

// Load resolves a key with stale-while-revalidate semantics.
//
// On a cache hit the cached value is returned immediately and the fetcher
// runs in the background; a successful refresh overwrites the cache and is
// delivered through onUpdate, a failed refresh is only logged (the caller was
// already satisfied by the stale value). On a miss the fetcher runs
// synchronously and its error, if any, surfaces to the caller.
//
// Concurrent loads of the same key may race two fetches; the cache write is
// last-write-wins, which is accepted because every write is an idempotent
// overwrite rather than a merge.
func (l *Loader) Load(ctx context.Context, key string, fetch Fetcher, onUpdate func(interface{})) (Result, error) {
	if entry, ok := l.cache.Get(key); ok {
		// The refresh outlives the triggering request; a request-scoped
		// cancel right after this return must not abort it.
		go l.revalidate(context.WithoutCancel(ctx), key, fetch, onUpdate)
		return Result{Data: entry.Data, FromCache: true}, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	l.cache.Set(key, data)
	return Result{Data: data}, nil
}

// revalidate refreshes a key in the background after a cache hit.
func (l *Loader) revalidate(ctx context.Context, key string, fetch Fetcher, onUpdate func(interface{})) {
	ctx, cancel := context.WithTimeout(ctx, revalidateTimeout)
	defer cancel()

	data, err := fetch(ctx)
	if err != nil {
		logging.Warn("background revalidation failed, serving stale value",
			map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	l.cache.Set(key, data)
	if onUpdate != nil {
		onUpdate(data)
	}
}

// Push unconditionally refreshes a key with an externally supplied value,
// typically one delivered by a realtime subscription.
func (l *Loader) Push(key string, data interface{}) {
	l.cache.Set(key, data)
}
