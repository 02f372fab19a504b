// Package store opens the single-file SQLite database all jobctl
// commands share and initializes its schema.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the shared *sql.DB handle onto queue.db. Every write that
// must serialize with concurrent worker processes goes through a
// transaction started on this handle; the _txlock=immediate DSN option
// makes every such transaction a BEGIN IMMEDIATE at the driver level, so
// the write lock is acquired on Begin rather than on first write.
type Store struct {
	DB *sql.DB
}

// Open is idempotent: it initializes the schema if the file is empty
// and enables WAL with a 5s+ busy-wait for contended writers.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{DB: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		base_backoff REAL NOT NULL DEFAULT 2.0,
		priority INTEGER NOT NULL DEFAULT 0,
		timeout_seconds REAL NULL,
		stdout_log TEXT NOT NULL,
		last_error TEXT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		available_at TEXT NOT NULL,
		started_at TEXT NULL,
		finished_at TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, available_at, priority, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`
	_, err := s.DB.Exec(schema)
	return err
}
