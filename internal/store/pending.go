package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/kychiang/studydeck/internal/errors"
	"github.com/kychiang/studydeck/internal/models"
)

// EnqueuePendingOp appends a mutation to a pending-operation log. Entries are
// never overwritten; ids are assigned by the store and increase in insertion
// order, which is the replay order.
func (s *Store) EnqueuePendingOp(ctx context.Context, queue string, kind models.OpKind, endpoint, userID string, payload json.RawMessage) (*models.PendingOp, error) {
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation kind %q", kind))
	}

	op := &models.PendingOp{
		Queue:     queue,
		Kind:      kind,
		Endpoint:  endpoint,
		Payload:   payload,
		UserID:    userID,
		CreatedAt: time.Now().UnixMilli(),
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_ops (queue, kind, endpoint, payload, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.Queue, string(op.Kind), op.Endpoint, string(op.Payload), op.UserID, op.CreatedAt)
	if err != nil {
		return nil, apperrors.Storage("enqueue "+queue, err)
	}

	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, apperrors.Storage("enqueue "+queue, err)
	}
	return op, nil
}

// ListPendingOps returns a queue's operations in FIFO order.
func (s *Store) ListPendingOps(ctx context.Context, queue string) ([]models.PendingOp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue, kind, endpoint, payload, user_id, created_at
		FROM pending_ops WHERE queue = ? ORDER BY id`, queue)
	if err != nil {
		return nil, apperrors.Storage("list "+queue, err)
	}
	defer rows.Close()

	var ops []models.PendingOp
	for rows.Next() {
		var op models.PendingOp
		var kind string
		var payload sql.NullString
		if err := rows.Scan(&op.ID, &op.Queue, &kind, &op.Endpoint, &payload, &op.UserID, &op.CreatedAt); err != nil {
			return nil, apperrors.Storage("scan "+queue, err)
		}
		op.Kind = models.OpKind(kind)
		if payload.Valid {
			op.Payload = json.RawMessage(payload.String)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterate "+queue, err)
	}
	return ops, nil
}

// RemovePendingOp deletes a confirmed operation from its log.
func (s *Store) RemovePendingOp(ctx context.Context, queue string, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_ops WHERE queue = ? AND id = ?", queue, id); err != nil {
		return apperrors.Storage("remove from "+queue, err)
	}
	return nil
}

// ClearPendingOps drops every operation in a queue.
func (s *Store) ClearPendingOps(ctx context.Context, queue string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_ops WHERE queue = ?", queue); err != nil {
		return apperrors.Storage("clear "+queue, err)
	}
	return nil
}

// ClearPendingOpsForUser drops one user's operations from a queue, leaving
// other users' unconfirmed mutations in place.
func (s *Store) ClearPendingOpsForUser(ctx context.Context, queue, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_ops WHERE queue = ? AND user_id = ?", queue, userID); err != nil {
		return apperrors.Storage("clear "+queue+" for user", err)
	}
	return nil
}
