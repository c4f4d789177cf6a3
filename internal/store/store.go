// Package store persists document items and query tasks in SQLite and
// implements the claim/reclaim primitives both worker pipelines are built on.
//
// Every status transition a worker performs is a single conditional UPDATE
// checked by affected-row count. A claim that loses the race observes zero
// affected rows and is treated as "no work", never as an error. Splitting a
// claim into a read followed by an unconditional write would double-claim
// under concurrent workers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database holding items and tasks.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			path TEXT NOT NULL,
			description TEXT,
			pending_analysis INTEGER NOT NULL DEFAULT 1,
			analysis_status TEXT NOT NULL DEFAULT 'Queued',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			payload TEXT,
			result TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_claim ON items (analysis_status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (status, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ageModifier renders a duration as a SQLite datetime modifier, e.g. "-600 seconds".
func ageModifier(age time.Duration) string {
	return fmt.Sprintf("-%d seconds", int64(age.Seconds()))
}
