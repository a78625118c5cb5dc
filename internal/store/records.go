package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/kychiang/studydeck/internal/errors"
	"github.com/kychiang/studydeck/internal/logging"
	"github.com/kychiang/studydeck/internal/models"
)

// DefaultStaleMaxAge bounds how old a cached record may grow before EvictStale
// removes it.
const DefaultStaleMaxAge = 4 * time.Hour

// Put upserts records into a collection by id, stamping a fresh cached_at
// into each payload. Each record write is atomic on its own; a bulk put
// dispatches every row and reports the combined failure, tolerating partially
// applied batches (each record is independently idempotent-writable).
func (s *Store) Put(ctx context.Context, collection string, records ...interface{}) error {
	if err := validCollection(collection); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "put", err)
	}

	var errs []error
	for _, record := range records {
		env, err := models.Wrap(record)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.putEnvelope(ctx, collection, env); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.Storage("put "+collection, errors.Join(errs...))
	}
	return nil
}

func (s *Store) putEnvelope(ctx context.Context, collection string, env models.Envelope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (collection, id, owner_id, cached_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			owner_id = excluded.owner_id,
			cached_at = excluded.cached_at,
			payload = excluded.payload`,
		collection, env.ID, env.OwnerID, env.CachedAt, string(env.Payload))
	return err
}

// GetAll returns every record in a collection. Failures degrade to an empty
// slice so cache misses read as "no data" rather than crashing callers.
func (s *Store) GetAll(ctx context.Context, collection string) []models.Envelope {
	if err := validCollection(collection); err != nil {
		logging.Warn("GetAll on invalid collection", map[string]interface{}{"collection": collection})
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, cached_at, payload FROM records WHERE collection = ? ORDER BY id",
		collection)
	if err != nil {
		logging.Error("read collection failed", err, map[string]interface{}{"collection": collection})
		return nil
	}
	defer rows.Close()

	var envs []models.Envelope
	for rows.Next() {
		var env models.Envelope
		var payload string
		if err := rows.Scan(&env.ID, &env.OwnerID, &env.CachedAt, &payload); err != nil {
			logging.Error("scan record failed", err, map[string]interface{}{"collection": collection})
			return nil
		}
		env.Payload = []byte(payload)
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		logging.Error("iterate collection failed", err, map[string]interface{}{"collection": collection})
		return nil
	}
	return envs
}

// GetByID returns a single record, or nil when absent or unreadable.
func (s *Store) GetByID(ctx context.Context, collection, id string) *models.Envelope {
	if err := validCollection(collection); err != nil {
		return nil
	}

	var env models.Envelope
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, cached_at, payload FROM records WHERE collection = ? AND id = ?",
		collection, id).Scan(&env.ID, &env.OwnerID, &env.CachedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		logging.Error("read record failed", err,
			map[string]interface{}{"collection": collection, "id": id})
		return nil
	}
	env.Payload = []byte(payload)
	return &env
}

// Delete removes a record by id. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := validCollection(collection); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "delete", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND id = ?", collection, id); err != nil {
		return apperrors.Storage("delete "+collection, err)
	}
	return nil
}

// Clear removes every record in a collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := validCollection(collection); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "clear", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ?", collection); err != nil {
		return apperrors.Storage("clear "+collection, err)
	}
	return nil
}

// ClearForUser removes only the records owned by userID, used on sign-out to
// prevent cross-account data leakage.
func (s *Store) ClearForUser(ctx context.Context, collection, userID string) error {
	if err := validCollection(collection); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "clear for user", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND owner_id = ?", collection, userID); err != nil {
		return apperrors.Storage("clear "+collection+" for user", err)
	}
	return nil
}

// EvictStale removes records whose cached_at age exceeds maxAge across every
// non-pending collection. A failure in one collection does not block the rest.
func (s *Store) EvictStale(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultStaleMaxAge
	}

	now := time.Now()
	evicted := 0

	for _, collection := range models.Collections {
		envs := s.GetAll(ctx, collection)
		for _, env := range envs {
			if env.Age(now) <= maxAge {
				continue
			}
			if err := s.Delete(ctx, collection, env.ID); err != nil {
				logging.Error("evict stale record failed", err,
					map[string]interface{}{"collection": collection, "id": env.ID})
				continue
			}
			evicted++
		}
	}

	if evicted > 0 {
		logging.Info("evicted stale records", map[string]interface{}{
			"count":       evicted,
			"max_age_min": maxAge.Minutes(),
		})
	}
	return evicted
}
