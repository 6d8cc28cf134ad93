// Package sqlstore implements store.Store on database/sql. The sqlite and
// postgres packages supply the connection, the DDL and the placeholder style.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// Dialect captures what differs between drivers.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders to $1, $2, ...
	Numbered bool
}

// DB is a store.Store over a *sql.DB.
type DB struct {
	db *sql.DB
	d  Dialect
}

// New wraps db. The schema must already exist.
func New(db *sql.DB, d Dialect) *DB { return &DB{db: db, d: d} }

func (s *DB) Sessions() store.Sessions         { return sessions{s} }
func (s *DB) Facts() store.Facts               { return facts{s} }
func (s *DB) Blobs() store.Blobs               { return blobs{s} }
func (s *DB) Attestations() store.Attestations { return attestations{s} }
func (s *DB) Close() error                     { return s.db.Close() }

// DB exposes the underlying handle.
func (s *DB) DB() *sql.DB { return s.db }

// HealthPing implements health.Pinger.
func (s *DB) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate executes each statement of schema.
func Migrate(ctx context.Context, db *sql.DB, schema []string) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *DB) q(query string) string {
	if !s.d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Sessions ---
type sessions struct{ s *DB }

const upsertSessionSQL = `
INSERT INTO sessions (id, title, speaker, organizer, public, phase, review_count,
    acc0, acc1, acc2, agg0, agg1, agg2,
    created_at, closed_at, decryption_requested_at, decrypted_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
    public = excluded.public,
    phase = excluded.phase,
    review_count = excluded.review_count,
    acc0 = excluded.acc0, acc1 = excluded.acc1, acc2 = excluded.acc2,
    agg0 = excluded.agg0, agg1 = excluded.agg1, agg2 = excluded.agg2,
    closed_at = excluded.closed_at,
    decryption_requested_at = excluded.decryption_requested_at,
    decrypted_at = excluded.decrypted_at`

const insertAttendeeSQL = `
INSERT INTO session_attendees (session_id, address, position)
VALUES (?,?,?)
ON CONFLICT (session_id, address) DO NOTHING`

const upsertReviewSQL = `
INSERT INTO reviews (session_id, reviewer, tags, qa_duration, h0, h1, h2, revision, submitted_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT (session_id, reviewer) DO UPDATE SET
    tags = excluded.tags,
    qa_duration = excluded.qa_duration,
    h0 = excluded.h0, h1 = excluded.h1, h2 = excluded.h2,
    revision = excluded.revision,
    submitted_at = excluded.submitted_at`

const insertFactSQL = `
INSERT INTO facts (kind, session_id, payload, created_at, status, attempts, next_attempt_at, last_error)
VALUES (?,?,?,?,?,0,?,'')
RETURNING id`

func (r sessions) Commit(ctx context.Context, rec store.SessionRecord, fs []events.Fact) ([]events.Fact, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ses := rec.Session
	if _, err := tx.ExecContext(ctx, r.s.q(upsertSessionSQL),
		int64(ses.ID), ses.Title, string(ses.Speaker), string(ses.Organizer), boolInt(rec.Public),
		ses.Phase.String(), ses.ReviewCount,
		string(ses.Accumulator[0]), string(ses.Accumulator[1]), string(ses.Accumulator[2]),
		int64(ses.Aggregate.Clarity), int64(ses.Aggregate.Innovation), int64(ses.Aggregate.Inspiration),
		nanos(ses.CreatedAt), nullNanos(ses.ClosedAt), nullNanos(ses.DecryptionRequestedAt), nullNanos(ses.DecryptedAt),
	); err != nil {
		return nil, fmt.Errorf("upsert session %d: %w", ses.ID, err)
	}
	for i, a := range rec.Attendees {
		if _, err := tx.ExecContext(ctx, r.s.q(insertAttendeeSQL), int64(ses.ID), string(a), i); err != nil {
			return nil, fmt.Errorf("insert attendee: %w", err)
		}
	}
	for _, rv := range rec.Reviews {
		if _, err := tx.ExecContext(ctx, r.s.q(upsertReviewSQL),
			int64(ses.ID), string(rv.Reviewer), int(rv.Tags), int64(rv.QADuration),
			string(rv.Handles[0]), string(rv.Handles[1]), string(rv.Handles[2]),
			rv.Revision, nanos(rv.SubmittedAt),
		); err != nil {
			return nil, fmt.Errorf("upsert review: %w", err)
		}
	}
	out, err := r.s.appendFacts(ctx, tx, fs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DB) appendFacts(ctx context.Context, tx execer, fs []events.Fact) ([]events.Fact, error) {
	out := make([]events.Fact, len(fs))
	for i, f := range fs {
		payload := string(f.Payload)
		at := nanos(f.CreatedAt)
		if err := tx.QueryRowContext(ctx, s.q(insertFactSQL),
			string(f.Kind), int64(f.SessionID), payload, at, store.FactPending, at,
		).Scan(&f.ID); err != nil {
			return nil, fmt.Errorf("append fact %s: %w", f.Kind, err)
		}
		out[i] = f
	}
	return out, nil
}

const selectSessionsSQL = `
SELECT id, title, speaker, organizer, public, phase, review_count,
    acc0, acc1, acc2, agg0, agg1, agg2,
    created_at, closed_at, decryption_requested_at, decrypted_at
FROM sessions ORDER BY id`

func (r sessions) LoadAll(ctx context.Context) ([]store.SessionRecord, error) {
	rows, err := r.s.db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SessionRecord
	index := map[model.SessionID]int{}
	for rows.Next() {
		var (
			rec                       store.SessionRecord
			id, created               int64
			public                    int
			phase, speaker, organizer string
			acc                       [3]string
			agg                       [3]int64
			closed, requested, dec    sql.NullInt64
		)
		if err := rows.Scan(&id, &rec.Session.Title, &speaker, &organizer, &public, &phase, &rec.Session.ReviewCount,
			&acc[0], &acc[1], &acc[2], &agg[0], &agg[1], &agg[2],
			&created, &closed, &requested, &dec); err != nil {
			return nil, err
		}
		p, err := model.ParsePhase(phase)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", id, err)
		}
		rec.Session.ID = model.SessionID(id)
		rec.Session.Speaker = model.Address(speaker)
		rec.Session.Organizer = model.Address(organizer)
		rec.Session.Phase = p
		rec.Public = public != 0
		for i := range acc {
			rec.Session.Accumulator[i] = model.Handle(acc[i])
		}
		rec.Session.Aggregate = model.ScoresFromArray([3]uint32{uint32(agg[0]), uint32(agg[1]), uint32(agg[2])})
		rec.Session.CreatedAt = fromNanos(created)
		rec.Session.ClosedAt = fromNullNanos(closed)
		rec.Session.DecryptionRequestedAt = fromNullNanos(requested)
		rec.Session.DecryptedAt = fromNullNanos(dec)
		index[rec.Session.ID] = len(out)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadAttendees(ctx, out, index); err != nil {
		return nil, err
	}
	if err := r.loadReviews(ctx, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (r sessions) loadAttendees(ctx context.Context, out []store.SessionRecord, index map[model.SessionID]int) error {
	rows, err := r.s.db.QueryContext(ctx, `SELECT session_id, address FROM session_attendees ORDER BY session_id, position`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var addr string
		if err := rows.Scan(&id, &addr); err != nil {
			return err
		}
		if i, ok := index[model.SessionID(id)]; ok {
			out[i].Attendees = append(out[i].Attendees, model.Address(addr))
		}
	}
	return rows.Err()
}

func (r sessions) loadReviews(ctx context.Context, out []store.SessionRecord, index map[model.SessionID]int) error {
	rows, err := r.s.db.QueryContext(ctx, `
SELECT session_id, reviewer, tags, qa_duration, h0, h1, h2, revision, submitted_at
FROM reviews ORDER BY session_id, submitted_at, reviewer`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, qa, submitted int64
			tags              int
			reviewer          string
			h                 [3]string
			rv                model.ReviewRecord
		)
		if err := rows.Scan(&id, &reviewer, &tags, &qa, &h[0], &h[1], &h[2], &rv.Revision, &submitted); err != nil {
			return err
		}
		rv.Reviewer = model.Address(reviewer)
		rv.Tags = uint8(tags)
		rv.QADuration = uint32(qa)
		rv.Handles = model.Handles{model.Handle(h[0]), model.Handle(h[1]), model.Handle(h[2])}
		rv.SubmittedAt = fromNanos(submitted)
		if i, ok := index[model.SessionID(id)]; ok {
			out[i].Reviews = append(out[i].Reviews, rv)
		}
	}
	return rows.Err()
}

// --- Facts ---
type facts struct{ s *DB }

const factColumns = `id, kind, session_id, payload, created_at, status, attempts, next_attempt_at, last_error`

func scanFacts(rows *sql.Rows) ([]store.FactRow, error) {
	defer rows.Close()
	var out []store.FactRow
	for rows.Next() {
		var (
			f                store.FactRow
			kind, payload    string
			sid, created, na int64
		)
		if err := rows.Scan(&f.ID, &kind, &sid, &payload, &created, &f.Status, &f.Attempts, &na, &f.LastError); err != nil {
			return nil, err
		}
		f.Kind = events.Kind(kind)
		f.SessionID = model.SessionID(sid)
		if payload != "" {
			f.Payload = []byte(payload)
		}
		f.CreatedAt = fromNanos(created)
		f.NextAttemptAt = fromNanos(na)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r facts) Pending(ctx context.Context, kind events.Kind, now time.Time, limit int) ([]store.FactRow, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`
SELECT `+factColumns+`
FROM facts
WHERE kind = ? AND status = ? AND next_attempt_at <= ?
ORDER BY id
LIMIT ?`), string(kind), store.FactPending, nanos(now), limit)
	if err != nil {
		return nil, err
	}
	return scanFacts(rows)
}

func (r facts) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("fact %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r facts) MarkDone(ctx context.Context, id int64) error {
	return r.exec(ctx, id, `UPDATE facts SET status = ? WHERE id = ?`, store.FactDone, id)
}

func (r facts) MarkFailed(ctx context.Context, id int64, next time.Time, cause string) error {
	return r.exec(ctx, id, `UPDATE facts SET attempts = attempts + 1, next_attempt_at = ?, last_error = ? WHERE id = ?`,
		nanos(next), cause, id)
}

func (r facts) MarkRejected(ctx context.Context, id int64, cause string) error {
	return r.exec(ctx, id, `UPDATE facts SET status = ?, last_error = ? WHERE id = ?`, store.FactRejected, cause, id)
}

func (r facts) List(ctx context.Context, sessionID model.SessionID) ([]store.FactRow, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+factColumns+` FROM facts WHERE session_id = ? ORDER BY id`), int64(sessionID))
	if err != nil {
		return nil, err
	}
	return scanFacts(rows)
}

// --- Blobs ---
type blobs struct{ s *DB }

func (r blobs) Put(ctx context.Context, key string, data []byte) error {
	_, err := r.s.db.ExecContext(ctx, r.s.q(`INSERT INTO blobs (handle, data) VALUES (?,?) ON CONFLICT (handle) DO NOTHING`), key, data)
	return err
}

func (r blobs) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT data FROM blobs WHERE handle = ?`), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", cipher.ErrUnknownHandle, key)
	}
	return data, err
}

// --- Attestations ---
type attestations struct{ s *DB }

func (r attestations) Put(ctx context.Context, a store.Attestation) error {
	_, err := r.s.db.ExecContext(ctx, r.s.q(`
INSERT INTO attestations (session_id, token, clarity, innovation, inspiration, issued_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT (session_id) DO UPDATE SET
    token = excluded.token,
    clarity = excluded.clarity, innovation = excluded.innovation, inspiration = excluded.inspiration,
    issued_at = excluded.issued_at`),
		int64(a.SessionID), a.Token, int64(a.Scores.Clarity), int64(a.Scores.Innovation), int64(a.Scores.Inspiration), nanos(a.IssuedAt))
	return err
}

func (r attestations) Get(ctx context.Context, id model.SessionID) (store.Attestation, error) {
	var (
		a      store.Attestation
		sc     [3]int64
		issued int64
	)
	err := r.s.db.QueryRowContext(ctx, r.s.q(`
SELECT token, clarity, innovation, inspiration, issued_at FROM attestations WHERE session_id = ?`), int64(id)).
		Scan(&a.Token, &sc[0], &sc[1], &sc[2], &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Attestation{}, fmt.Errorf("attestation for session %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Attestation{}, err
	}
	a.SessionID = id
	a.Scores = model.ScoresFromArray([3]uint32{uint32(sc[0]), uint32(sc[1]), uint32(sc[2])})
	a.IssuedAt = fromNanos(issued)
	return a, nil
}
