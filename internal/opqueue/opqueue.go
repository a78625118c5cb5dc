// Package opqueue decouples recording a mutation from executing it, enabling
// optimistic UI updates and deferred replay against the remote API.
package opqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/kychiang/studydeck/internal/errors"
	"github.com/kychiang/studydeck/internal/logging"
	"github.com/kychiang/studydeck/internal/models"
	"github.com/kychiang/studydeck/internal/store"
)

// Transport performs one remote call. *remote.Client satisfies it.
type Transport interface {
	Do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error)
}

// Operation is one recorded mutation awaiting execution.
type Operation struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	Kind       models.OpKind   `json:"kind"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UserID     string          `json:"user_id"`
	Timestamp  int64           `json:"timestamp"` // epoch millis

	// storeID is the durable log row backing this operation.
	storeID int64
}

// entityQueues maps entity types to their durable pending-op logs.
var entityQueues = map[string]string{
	"tasks":     models.QueueTasks,
	"routines":  models.QueueRoutines,
	"courses":   models.QueueCourses,
	"materials": models.QueueMaterials,
}

// Queue is the per-user pending-operations queue: an in-memory FIFO index
// mirrored into the durable store's append-only logs.
type Queue struct {
	store     *store.Store
	transport Transport

	mu        sync.Mutex
	userID    string
	ops       []*Operation
	executing bool
}

// New creates a Queue over the given durable store and transport.
func New(st *store.Store, transport Transport) *Queue {
	return &Queue{store: st, transport: transport}
}

// SetUser switches the acting user and reloads the in-memory index from the
// durable logs.
func (q *Queue) SetUser(ctx context.Context, userID string) error {
	q.mu.Lock()
	q.userID = userID
	q.mu.Unlock()
	return q.Reload(ctx)
}

// Save records a mutation for deferred execution. The operation gets a
// generated id of the form <entity>_<millis>_<suffix>, the acting user id and
// a timestamp, is appended to the durable log, and shows up in Pending()
// immediately so the UI can reflect it optimistically.
func (q *Queue) Save(ctx context.Context, entityType string, kind models.OpKind, endpoint string, payload json.RawMessage) (*Operation, error) {
	queueName, ok := entityQueues[entityType]
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown entity type %q", entityType))
	}

	q.mu.Lock()
	userID := q.userID
	q.mu.Unlock()

	stored, err := q.store.EnqueuePendingOp(ctx, queueName, kind, endpoint, userID, payload)
	if err != nil {
		return nil, err
	}

	op := &Operation{
		ID:         operationID(entityType, stored.CreatedAt),
		EntityType: entityType,
		Kind:       kind,
		Endpoint:   endpoint,
		Payload:    payload,
		UserID:     userID,
		Timestamp:  stored.CreatedAt,
		storeID:    stored.ID,
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	logging.Debug("recorded pending operation", map[string]interface{}{
		"id": op.ID, "kind": string(kind), "endpoint": endpoint,
	})
	return op, nil
}

// Pending returns a snapshot of the not-yet-applied operations in insertion
// order. The UI renders this list alongside confirmed data.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		ops = append(ops, *op)
	}
	return ops
}

// Execute replays the pending operations serially in FIFO order. It is a
// no-op when a pass is already running or the queue is empty.
//
// Per operation: create maps to POST, update to PUT, delete to DELETE, with a
// JSON body attached for create/update only. A 2xx removes the operation. An
// HTTP-level failure leaves the operation queued for the next pass and the
// walk continues; a connectivity failure stops the walk immediately, leaving
// the failed operation and everything after it untouched. The in-memory index
// reloads from the durable logs after every pass.
func (q *Queue) Execute(ctx context.Context) error {
	q.mu.Lock()
	if q.executing || len(q.ops) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.executing = true
	snapshot := make([]*Operation, len(q.ops))
	copy(snapshot, q.ops)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.executing = false
		q.mu.Unlock()
	}()

	var walkErr error
	for _, op := range snapshot {
		if ctx.Err() != nil {
			walkErr = ctx.Err()
			break
		}

		if err := q.executeOne(ctx, op); err != nil {
			if apperrors.IsConnectivity(err) {
				logging.Warn("connectivity failure, stopping queue execution",
					map[string]interface{}{"id": op.ID, "error": err.Error()})
				walkErr = err
				break
			}
			logging.ErrorWithCode("pending operation failed, will retry",
				string(apperrors.Code(err)), err, map[string]interface{}{"id": op.ID})
			continue
		}

		queueName := entityQueues[op.EntityType]
		if err := q.store.RemovePendingOp(ctx, queueName, op.storeID); err != nil {
			logging.Error("confirmed operation not removed from log", err,
				map[string]interface{}{"id": op.ID})
		}
	}

	if err := q.Reload(ctx); err != nil {
		logging.Error("pending queue reload failed", err)
	}
	return walkErr
}

// executeOne performs the remote call for a single operation.
func (q *Queue) executeOne(ctx context.Context, op *Operation) error {
	var method string
	var body []byte

	switch op.Kind {
	case models.OpCreate:
		method = http.MethodPost
		body = op.Payload
	case models.OpUpdate:
		method = http.MethodPut
		body = op.Payload
	case models.OpDelete:
		method = http.MethodDelete
	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation kind %q", op.Kind))
	}

	_, err := q.transport.Do(ctx, method, op.Endpoint, body)
	return err
}

// Reload rebuilds the in-memory index from the durable logs, keeping only the
// acting user's operations, ordered by insertion.
func (q *Queue) Reload(ctx context.Context) error {
	q.mu.Lock()
	userID := q.userID
	known := make(map[int64]string, len(q.ops))
	for _, op := range q.ops {
		known[op.storeID] = op.ID
	}
	q.mu.Unlock()

	var ops []*Operation
	for entityType, queueName := range entityQueues {
		stored, err := q.store.ListPendingOps(ctx, queueName)
		if err != nil {
			return err
		}
		for _, row := range stored {
			if userID != "" && row.UserID != userID {
				continue
			}
			id, ok := known[row.ID]
			if !ok {
				id = operationID(entityType, row.CreatedAt)
			}
			ops = append(ops, &Operation{
				ID:         id,
				EntityType: entityType,
				Kind:       row.Kind,
				Endpoint:   row.Endpoint,
				Payload:    row.Payload,
				UserID:     row.UserID,
				Timestamp:  row.CreatedAt,
				storeID:    row.ID,
			})
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Timestamp != ops[j].Timestamp {
			return ops[i].Timestamp < ops[j].Timestamp
		}
		return ops[i].storeID < ops[j].storeID
	})

	q.mu.Lock()
	q.ops = ops
	q.mu.Unlock()
	return nil
}

// ClearUser drops the acting user's durable pending operations and resets the
// index. Used on sign-out; other users sharing the store keep their
// unconfirmed mutations.
func (q *Queue) ClearUser(ctx context.Context) error {
	q.mu.Lock()
	userID := q.userID
	q.mu.Unlock()

	for _, queueName := range entityQueues {
		if err := q.store.ClearPendingOpsForUser(ctx, queueName, userID); err != nil {
			return err
		}
	}
	q.mu.Lock()
	q.ops = nil
	q.mu.Unlock()
	return nil
}

// Size returns the number of pending operations.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// operationID builds the composite operation id <entity>_<millis>_<suffix>.
func operationID(entityType string, millis int64) string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s_%d_%s", entityType, millis, suffix)
}
