package models

import "encoding/json"

// OpKind represents the kind of a pending mutation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether the kind is one of create/update/delete.
func (k OpKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// PendingOp represents one durable pending-operation log entry.
type PendingOp struct {
	ID        int64           `db:"id" json:"id"`
	Queue     string          `db:"queue" json:"queue"`
	Kind      OpKind          `db:"kind" json:"kind"`
	Endpoint  string          `db:"endpoint" json:"endpoint"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	UserID    string          `db:"user_id" json:"user_id,omitempty"`
	CreatedAt int64           `db:"created_at" json:"created_at"` // epoch millis
}

// TableName returns the table name for pending operations.
func (PendingOp) TableName() string {
	return "pending_ops"
}
