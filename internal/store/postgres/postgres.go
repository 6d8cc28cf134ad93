// Package postgres provides the shared store on PostgreSQL through the pgx
// stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mewiskl/zama-Talklet-Review/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{Name: "postgres", Numbered: true}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
    id BIGINT PRIMARY KEY,
    title TEXT NOT NULL,
    speaker TEXT NOT NULL,
    organizer TEXT NOT NULL,
    public INTEGER NOT NULL,
    phase TEXT NOT NULL,
    review_count INTEGER NOT NULL,
    acc0 TEXT NOT NULL, acc1 TEXT NOT NULL, acc2 TEXT NOT NULL,
    agg0 BIGINT NOT NULL, agg1 BIGINT NOT NULL, agg2 BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    closed_at BIGINT,
    decryption_requested_at BIGINT,
    decrypted_at BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS session_attendees (
    session_id BIGINT NOT NULL REFERENCES sessions(id),
    address TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (session_id, address)
)`,
	`CREATE TABLE IF NOT EXISTS reviews (
    session_id BIGINT NOT NULL REFERENCES sessions(id),
    reviewer TEXT NOT NULL,
    tags INTEGER NOT NULL,
    qa_duration BIGINT NOT NULL,
    h0 TEXT NOT NULL, h1 TEXT NOT NULL, h2 TEXT NOT NULL,
    revision INTEGER NOT NULL,
    submitted_at BIGINT NOT NULL,
    PRIMARY KEY (session_id, reviewer)
)`,
	`CREATE TABLE IF NOT EXISTS facts (
    id BIGSERIAL PRIMARY KEY,
    kind TEXT NOT NULL,
    session_id BIGINT NOT NULL,
    payload TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    next_attempt_at BIGINT NOT NULL,
    last_error TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS facts_pending ON facts (kind, status, next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS blobs (
    handle TEXT PRIMARY KEY,
    data BYTEA NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS attestations (
    session_id BIGINT PRIMARY KEY,
    token TEXT NOT NULL,
    clarity BIGINT NOT NULL, innovation BIGINT NOT NULL, inspiration BIGINT NOT NULL,
    issued_at BIGINT NOT NULL
)`,
}

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New connects to dsn, applies the schema and returns the store.
func New(ctx context.Context, dsn string) (*sqlstore.DB, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, dialect), nil
}

// Bootstrap performs a connectivity check to ensure Postgres is reachable.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.PingContext(ctx)
}
