// Package store provides the durable per-collection cache backing the offline
// layer. Records survive restarts; reads degrade to empty on failure, writes
// surface storage errors.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/kychiang/studydeck/internal/errors"
)

// Store wraps the sql.DB with StudyDeck-specific configuration.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite-backed durable store. The database is opened with:
// - WAL mode for concurrent reads/writes
// - foreign key constraints enabled
// - a single writer connection (SQLite does not support multiple writers)
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageOpen, "create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "studydeck.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageOpen, "open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageOpen, "enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageOpen, "enable foreign keys", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// OpenInMemory opens a throwaway in-memory store, used by tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageOpen, "open in-memory database", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// validCollection guards against SQL injection through collection names and
// catches callers that pass a queue name where a collection belongs.
func validCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("empty collection name")
	}
	for _, r := range collection {
		if (r < 'a' || r > 'z') && r != '_' {
			return fmt.Errorf("invalid collection name %q", collection)
		}
	}
	return nil
}
