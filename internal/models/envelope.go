package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the storage form of any cached record: its identity fields
// pulled out for indexing plus the full JSON payload. The payload always
// carries a cached_at stamp after the first write.
type Envelope struct {
	ID       string          `db:"id" json:"id"`
	OwnerID  string          `db:"owner_id" json:"owner_id,omitempty"`
	CachedAt string          `db:"cached_at" json:"cached_at"`
	Payload  json.RawMessage `db:"payload" json:"payload"`
}

// TableName returns the table name for cached records.
func (Envelope) TableName() string {
	return "records"
}

// Wrap marshals a domain record into an Envelope, stamping a fresh cached_at
// into the payload. Any stamp the record already carries is replaced, so every
// write refreshes the record's age. The record must expose an "id" field;
// "user_id" is picked up as the owner when present.
func Wrap(record interface{}) (Envelope, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal record: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("record is not a JSON object: %w", err)
	}

	env := Envelope{}

	if idRaw, ok := fields["id"]; ok {
		_ = json.Unmarshal(idRaw, &env.ID)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("record has no id field")
	}

	if ownerRaw, ok := fields["user_id"]; ok {
		_ = json.Unmarshal(ownerRaw, &env.OwnerID)
	}

	env.CachedAt = time.Now().UTC().Format(time.RFC3339)
	stamped, err := json.Marshal(env.CachedAt)
	if err != nil {
		return Envelope{}, fmt.Errorf("stamp cached_at: %w", err)
	}
	fields["cached_at"] = stamped
	raw, err = json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("re-marshal record: %w", err)
	}

	env.Payload = raw
	return env, nil
}

// Unwrap decodes an envelope payload into the given destination.
func (e Envelope) Unwrap(dest interface{}) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// Age returns how long ago the envelope was cached, relative to now. A parse
// failure counts as infinitely old so broken stamps get evicted.
func (e Envelope) Age(now time.Time) time.Duration {
	t, err := time.Parse(time.RFC3339, e.CachedAt)
	if err != nil {
		return 1<<62 - 1
	}
	return now.Sub(t)
}
