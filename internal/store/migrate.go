package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/kychiang/studydeck/internal/errors"
)

// migration represents one schema step. Migrations are additive only: a step
// may create tables or indexes but never drops an existing collection.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations is the full ordered schema history. Append new steps; never edit
// an applied one (the checksum guard will refuse to start).
var migrations = []migration{
	{
		version:     1,
		description: "cached records",
		sql: `
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			cached_at TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);`,
	},
	{
		version:     2,
		description: "pending operation logs",
		sql: `
		CREATE TABLE IF NOT EXISTS pending_ops (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			kind TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			payload TEXT,
			user_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
	},
	{
		version:     3,
		description: "owner index for sign-out cleanup",
		sql:         `CREATE INDEX IF NOT EXISTS idx_records_owner ON records (collection, owner_id);`,
	},
	{
		version:     4,
		description: "queue scan index",
		sql:         `CREATE INDEX IF NOT EXISTS idx_pending_queue ON pending_ops (queue, id);`,
	},
}

// migrate brings the schema up to the current version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create migrations table", err)
	}

	applied := make(map[int]string)
	rows, err := s.db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "read applied migrations", err)
	}
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return apperrors.Wrap(apperrors.ErrMigration, "scan migration row", err)
		}
		applied[version] = checksum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "iterate migration rows", err)
	}

	for _, m := range migrations {
		sum := checksum(m.sql)
		if prev, ok := applied[m.version]; ok {
			if prev != sum {
				return apperrors.New(apperrors.ErrMigration,
					fmt.Sprintf("migration %d checksum mismatch (schema history edited)", m.version))
			}
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "begin migration tx", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("apply migration %d (%s)", m.version, m.description), err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			m.version, time.Now().Unix(), m.description, sum,
		); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration, "record migration", err)
		}
		if err := tx.Commit(); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "commit migration", err)
		}
	}

	return nil
}

// CurrentVersion returns the current schema version.
func (s *Store) CurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
