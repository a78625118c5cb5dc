// Package models provides unit tests for the storage envelope.
package models

import (
	"testing"
	"time"
)

// TestWrapStampsCachedAt tests that a fresh record gets a parseable cached_at
// in both the envelope and the stored payload.
func TestWrapStampsCachedAt(t *testing.T) {
	env, err := Wrap(Task{ID: "t1", UserID: "u1", Title: "Revise"})
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	if env.ID != "t1" || env.OwnerID != "u1" {
		t.Errorf("Expected identity fields extracted, got id=%q owner=%q", env.ID, env.OwnerID)
	}
	if _, err := time.Parse(time.RFC3339, env.CachedAt); err != nil {
		t.Errorf("Expected RFC3339 cached_at, got %q", env.CachedAt)
	}

	var back Task
	if err := env.Unwrap(&back); err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if back.CachedAt != env.CachedAt {
		t.Errorf("Expected stamp written into payload, got %q vs %q", back.CachedAt, env.CachedAt)
	}
	if back.Title != "Revise" {
		t.Errorf("Expected payload preserved, got %+v", back)
	}
}

// TestWrapRefreshesExistingStamp tests that a record carrying an old stamp is
// re-stamped on every wrap, in the envelope and in the stored payload.
func TestWrapRefreshesExistingStamp(t *testing.T) {
	stale := "2026-01-02T03:04:05Z"
	env, err := Wrap(Task{ID: "t1", UserID: "u1", CachedAt: stale})
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if env.CachedAt == stale {
		t.Error("Expected the old stamp replaced on re-wrap")
	}
	if env.CachedAt < stale {
		t.Errorf("Expected a newer stamp, got %q", env.CachedAt)
	}

	var back Task
	if err := env.Unwrap(&back); err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if back.CachedAt != env.CachedAt {
		t.Errorf("Expected refreshed stamp in payload, got %q vs %q", back.CachedAt, env.CachedAt)
	}
}

// TestWrapRequiresID tests the missing-id rejection.
func TestWrapRequiresID(t *testing.T) {
	if _, err := Wrap(map[string]string{"title": "no id"}); err == nil {
		t.Error("Expected error for record without id")
	}
	if _, err := Wrap("not an object"); err == nil {
		t.Error("Expected error for non-object record")
	}
}

// TestAge tests staleness measurement and the broken-stamp fallback.
func TestAge(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	env := Envelope{CachedAt: now.Add(-90 * time.Minute).Format(time.RFC3339)}
	if got := env.Age(now); got != 90*time.Minute {
		t.Errorf("Expected age 90m, got %v", got)
	}

	broken := Envelope{CachedAt: "not-a-time"}
	if broken.Age(now) < 1000*time.Hour {
		t.Error("Expected broken stamp to read as infinitely old")
	}
}

// TestOpKindValid tests the pending-op kind guard.
func TestOpKindValid(t *testing.T) {
	for _, k := range []OpKind{OpCreate, OpUpdate, OpDelete} {
		if !k.Valid() {
			t.Errorf("Expected %s valid", k)
		}
	}
	if OpKind("upsert").Valid() {
		t.Error("Expected unknown kind rejected")
	}
}
