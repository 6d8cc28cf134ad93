// Package sqlite provides the single-node store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mewiskl/zama-Talklet-Review/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{Name: "sqlite"}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    speaker TEXT NOT NULL,
    organizer TEXT NOT NULL,
    public INTEGER NOT NULL,
    phase TEXT NOT NULL,
    review_count INTEGER NOT NULL,
    acc0 TEXT NOT NULL, acc1 TEXT NOT NULL, acc2 TEXT NOT NULL,
    agg0 INTEGER NOT NULL, agg1 INTEGER NOT NULL, agg2 INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    closed_at INTEGER,
    decryption_requested_at INTEGER,
    decrypted_at INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS session_attendees (
    session_id INTEGER NOT NULL REFERENCES sessions(id),
    address TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (session_id, address)
)`,
	`CREATE TABLE IF NOT EXISTS reviews (
    session_id INTEGER NOT NULL REFERENCES sessions(id),
    reviewer TEXT NOT NULL,
    tags INTEGER NOT NULL,
    qa_duration INTEGER NOT NULL,
    h0 TEXT NOT NULL, h1 TEXT NOT NULL, h2 TEXT NOT NULL,
    revision INTEGER NOT NULL,
    submitted_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, reviewer)
)`,
	`CREATE TABLE IF NOT EXISTS facts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    session_id INTEGER NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    next_attempt_at INTEGER NOT NULL,
    last_error TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS facts_pending ON facts (kind, status, next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS blobs (
    handle TEXT PRIMARY KEY,
    data BLOB NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS attestations (
    session_id INTEGER PRIMARY KEY,
    token TEXT NOT NULL,
    clarity INTEGER NOT NULL, innovation INTEGER NOT NULL, inspiration INTEGER NOT NULL,
    issued_at INTEGER NOT NULL
)`,
}

// Open opens (or creates) a SQLite database at path with WAL journaling and
// foreign keys enabled.
func Open(path string) (*sql.DB, error) {
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps commits serialised inside the driver
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New opens the database at path, applies the schema and returns the store.
func New(ctx context.Context, path string) (*sqlstore.DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, dialect), nil
}
