// Package opqueue provides unit tests for the pending-operations queue.
package opqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"testing"

	apperrors "github.com/kychiang/studydeck/internal/errors"
	"github.com/kychiang/studydeck/internal/models"
	"github.com/kychiang/studydeck/internal/store"
)

// fakeTransport scripts per-endpoint outcomes and records every call.
type fakeTransport struct {
	mu       sync.Mutex
	failWith map[string]error
	calls    []string
	methods  []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failWith: make(map[string]error)}
}

func (f *fakeTransport) Do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	f.methods = append(f.methods, method)
	if err, ok := f.failWith[endpoint]; ok {
		return nil, err
	}
	return []byte(`{}`), nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestQueue(t *testing.T) (*Queue, *fakeTransport) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	transport := newFakeTransport()
	q := New(st, transport)
	if err := q.SetUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	return q, transport
}

// TestSaveAssignsIDAndEchoes tests id format, user stamping, and the
// UI-visible pending snapshot.
func TestSaveAssignsIDAndEchoes(t *testing.T) {
	q, _ := newTestQueue(t)

	op, err := q.Save(context.Background(), "tasks", models.OpCreate, "tasks", json.RawMessage(`{"title":"x"}`))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	idPattern := regexp.MustCompile(`^tasks_\d+_[0-9a-f]+$`)
	if !idPattern.MatchString(op.ID) {
		t.Errorf("Expected composite id, got %q", op.ID)
	}
	if op.UserID != "user-1" {
		t.Errorf("Expected acting user stamped, got %q", op.UserID)
	}
	if op.Timestamp == 0 {
		t.Error("Expected generated timestamp")
	}

	pending := q.Pending()
	if len(pending) != 1 || pending[0].ID != op.ID {
		t.Errorf("Expected operation echoed into pending list, got %+v", pending)
	}
}

// TestSaveUnknownEntity tests that unmapped entity types are rejected.
func TestSaveUnknownEntity(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Save(context.Background(), "grades", models.OpCreate, "grades", nil)
	if err == nil {
		t.Error("Expected error for unknown entity type")
	}
}

// TestExecuteRemovesSucceededKeepsHTTPFailure tests the partial-failure walk:
// A(ok), B(HTTP 500), C(ok) leaves exactly B queued, and a second pass
// retries only B.
func TestExecuteRemovesSucceededKeepsHTTPFailure(t *testing.T) {
	q, transport := newTestQueue(t)
	ctx := context.Background()

	q.Save(ctx, "tasks", models.OpCreate, "tasks/a", json.RawMessage(`{"t":"a"}`))
	q.Save(ctx, "tasks", models.OpUpdate, "tasks/b", json.RawMessage(`{"t":"b"}`))
	q.Save(ctx, "tasks", models.OpDelete, "tasks/c", nil)

	transport.failWith["tasks/b"] = apperrors.HTTPStatus(http.StatusInternalServerError, "boom")

	if err := q.Execute(ctx); err != nil {
		t.Fatalf("Execute returned walk error for HTTP failure: %v", err)
	}

	pending := q.Pending()
	if len(pending) != 1 {
		t.Fatalf("Expected only the failed op to remain, got %d", len(pending))
	}
	if pending[0].Endpoint != "tasks/b" {
		t.Errorf("Expected tasks/b to remain, got %q", pending[0].Endpoint)
	}

	// Second pass touches only B.
	before := transport.callCount()
	transport.mu.Lock()
	delete(transport.failWith, "tasks/b")
	transport.mu.Unlock()

	if err := q.Execute(ctx); err != nil {
		t.Fatalf("Retry Execute failed: %v", err)
	}
	if got := transport.callCount() - before; got != 1 {
		t.Errorf("Expected exactly 1 retry call, got %d", got)
	}
	if q.Size() != 0 {
		t.Errorf("Expected drained queue, got %d", q.Size())
	}
}

// TestExecuteStopsOnConnectivityFailure tests that a network-level failure
// halts the walk, preserving the failed op and everything after it.
func TestExecuteStopsOnConnectivityFailure(t *testing.T) {
	q, transport := newTestQueue(t)
	ctx := context.Background()

	q.Save(ctx, "tasks", models.OpCreate, "tasks/a", json.RawMessage(`{}`))
	q.Save(ctx, "tasks", models.OpCreate, "tasks/b", json.RawMessage(`{}`))
	q.Save(ctx, "tasks", models.OpCreate, "tasks/c", json.RawMessage(`{}`))

	transport.failWith["tasks/b"] = apperrors.Connectivity("connection refused", nil)

	err := q.Execute(ctx)
	if err == nil {
		t.Fatal("Expected walk error on connectivity failure")
	}
	if !apperrors.IsConnectivity(err) {
		t.Errorf("Expected connectivity classification, got %v", err)
	}

	if transport.callCount() != 2 {
		t.Errorf("Expected walk to stop at B (2 calls), got %d", transport.callCount())
	}

	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected B and C preserved, got %d", len(pending))
	}
	if pending[0].Endpoint != "tasks/b" || pending[1].Endpoint != "tasks/c" {
		t.Errorf("Expected [tasks/b tasks/c] preserved in order, got %+v", pending)
	}
}

// TestExecuteMethodMapping tests create→POST, update→PUT, delete→DELETE with
// bodies only on create/update.
func TestExecuteMethodMapping(t *testing.T) {
	q, transport := newTestQueue(t)
	ctx := context.Background()

	q.Save(ctx, "courses", models.OpCreate, "courses", json.RawMessage(`{"n":"Math"}`))
	q.Save(ctx, "courses", models.OpUpdate, "courses/c1", json.RawMessage(`{"n":"Maths"}`))
	q.Save(ctx, "courses", models.OpDelete, "courses/c1", nil)

	if err := q.Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := []string{http.MethodPost, http.MethodPut, http.MethodDelete}
	if len(transport.methods) != len(want) {
		t.Fatalf("Expected %d calls, got %d", len(want), len(transport.methods))
	}
	for i, m := range want {
		if transport.methods[i] != m {
			t.Errorf("Call %d: expected %s, got %s", i, m, transport.methods[i])
		}
	}
}

// TestExecuteEmptyIsNoop tests the empty-queue guard.
func TestExecuteEmptyIsNoop(t *testing.T) {
	q, transport := newTestQueue(t)

	if err := q.Execute(context.Background()); err != nil {
		t.Fatalf("Execute on empty queue failed: %v", err)
	}
	if transport.callCount() != 0 {
		t.Errorf("Expected no calls on empty queue, got %d", transport.callCount())
	}
}

// TestClearUser tests that sign-out drops every durable log.
func TestClearUser(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Save(ctx, "tasks", models.OpCreate, "tasks", json.RawMessage(`{}`))
	q.Save(ctx, "materials", models.OpCreate, "materials", json.RawMessage(`{}`))

	if err := q.ClearUser(ctx); err != nil {
		t.Fatalf("ClearUser failed: %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("Expected empty queue after ClearUser, got %d", q.Size())
	}
	if err := q.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("Expected durable logs cleared, got %d after reload", q.Size())
	}
}

// TestClearUserLeavesOtherUsers tests that sign-out removes only the acting
// user's durable operations when two users share one store.
func TestClearUserLeavesOtherUsers(t *testing.T) {
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	alice := New(st, newFakeTransport())
	alice.SetUser(ctx, "alice")
	alice.Save(ctx, "tasks", models.OpCreate, "tasks", json.RawMessage(`{"t":"hers"}`))

	bob := New(st, newFakeTransport())
	bob.SetUser(ctx, "bob")
	bob.Save(ctx, "tasks", models.OpCreate, "tasks", json.RawMessage(`{"t":"his"}`))

	if err := alice.ClearUser(ctx); err != nil {
		t.Fatalf("ClearUser failed: %v", err)
	}
	if alice.Size() != 0 {
		t.Errorf("Expected alice's queue empty, got %d", alice.Size())
	}

	if err := bob.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if bob.Size() != 1 {
		t.Fatalf("Expected bob's operation to survive alice's sign-out, got %d", bob.Size())
	}
	if bob.Pending()[0].UserID != "bob" {
		t.Errorf("Expected bob's operation preserved, got %+v", bob.Pending()[0])
	}
}

// TestReloadSurvivesRestart tests that a fresh queue instance over the same
// store sees the earlier operations.
func TestReloadSurvivesRestart(t *testing.T) {
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	first := New(st, newFakeTransport())
	first.SetUser(ctx, "user-1")
	first.Save(ctx, "tasks", models.OpCreate, "tasks", json.RawMessage(`{"t":"persisted"}`))

	second := New(st, newFakeTransport())
	if err := second.SetUser(ctx, "user-1"); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	if second.Size() != 1 {
		t.Errorf("Expected persisted operation visible after restart, got %d", second.Size())
	}
}
