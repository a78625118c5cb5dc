// Package reader provides unit tests for the stale-while-revalidate read
// path.
package reader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kychiang/studydeck/internal/memcache"
)

// TestLoadMissFetchesSynchronously tests that a cold key blocks on the
// fetcher and populates the cache.
func TestLoadMissFetchesSynchronously(t *testing.T) {
	cache := memcache.New()
	l := NewLoader(cache)

	res, err := l.Load(context.Background(), "tasks", func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	}, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if res.FromCache {
		t.Error("Expected a network-sourced result on a miss")
	}
	if res.Data != "fresh" {
		t.Errorf("Expected fetched value, got %v", res.Data)
	}

	if entry, ok := cache.Get("tasks"); !ok || entry.Data != "fresh" {
		t.Error("Expected fetched value in the cache")
	}
}

// TestLoadMissSurfacesError tests that a fetch failure with no cached value
// reaches the caller.
func TestLoadMissSurfacesError(t *testing.T) {
	l := NewLoader(memcache.New())

	_, err := l.Load(context.Background(), "tasks", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fetch broke")
	}, nil)
	if err == nil {
		t.Error("Expected fetch error to surface on a miss")
	}
}

// TestLoadHitServesCachedThenRevalidates tests that a warm key answers
// immediately from cache and delivers the refreshed value asynchronously.
func TestLoadHitServesCachedThenRevalidates(t *testing.T) {
	cache := memcache.New()
	cache.Set("tasks", "stale")
	l := NewLoader(cache)

	updated := make(chan interface{}, 1)
	res, err := l.Load(context.Background(), "tasks", func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	}, func(data interface{}) {
		updated <- data
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !res.FromCache {
		t.Error("Expected cache-sourced result on a hit")
	}
	if res.Data != "stale" {
		t.Errorf("Expected the cached value first, got %v", res.Data)
	}

	select {
	case data := <-updated:
		if data != "fresh" {
			t.Errorf("Expected revalidated value, got %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for background revalidation")
	}

	if entry, _ := cache.Get("tasks"); entry.Data != "fresh" {
		t.Error("Expected cache overwritten by revalidation")
	}
}

// TestLoadHitRevalidatesAfterCallerCancel tests that canceling the request
// context right after a cache-hit return does not abort the background
// refresh.
func TestLoadHitRevalidatesAfterCallerCancel(t *testing.T) {
	cache := memcache.New()
	cache.Set("tasks", "stale")
	l := NewLoader(cache)

	ctx, cancel := context.WithCancel(context.Background())
	updated := make(chan interface{}, 1)
	res, err := l.Load(ctx, "tasks", func(fctx context.Context) (interface{}, error) {
		// Let the caller's cancel land before the fetch finishes.
		time.Sleep(20 * time.Millisecond)
		if fctx.Err() != nil {
			return nil, fctx.Err()
		}
		return "fresh", nil
	}, func(data interface{}) {
		updated <- data
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Data != "stale" {
		t.Errorf("Expected cached value, got %v", res.Data)
	}
	cancel()

	select {
	case data := <-updated:
		if data != "fresh" {
			t.Errorf("Expected revalidated value despite caller cancel, got %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for detached revalidation")
	}
}

// TestLoadHitKeepsStaleOnRefreshFailure tests that a failed background
// refresh keeps serving the stale value and never surfaces the error.
func TestLoadHitKeepsStaleOnRefreshFailure(t *testing.T) {
	cache := memcache.New()
	cache.Set("tasks", "stale")
	l := NewLoader(cache)

	fetched := make(chan struct{}, 1)
	res, err := l.Load(context.Background(), "tasks", func(ctx context.Context) (interface{}, error) {
		fetched <- struct{}{}
		return nil, errors.New("network down")
	}, func(interface{}) {
		t.Error("Update callback must not fire on refresh failure")
	})
	if err != nil {
		t.Fatalf("Expected no error on the cache-hit path, got %v", err)
	}
	if res.Data != "stale" {
		t.Errorf("Expected stale value, got %v", res.Data)
	}

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for background fetch")
	}
	// Give the failed revalidation a moment to (incorrectly) mutate state.
	time.Sleep(20 * time.Millisecond)

	if entry, _ := cache.Get("tasks"); entry.Data != "stale" {
		t.Error("Expected stale value retained after failed refresh")
	}
}

// TestPushRefreshesUnconditionally tests the realtime-subscription path.
func TestPushRefreshesUnconditionally(t *testing.T) {
	cache := memcache.New()
	cache.Set("tasks", "old")
	l := NewLoader(cache)

	l.Push("tasks", "pushed")

	if entry, _ := cache.Get("tasks"); entry.Data != "pushed" {
		t.Errorf("Expected pushed value in cache, got %v", entry.Data)
	}
}
