package store

import (
	"context"
	"errors"
	"time"

	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store exposes persistence operations required by the registry and the oracle.
// Implementations live under internal/store/<driver>/ (memory, sqlite, postgres).
type Store interface {
	Sessions() Sessions
	Facts() Facts
	Blobs() Blobs
	Attestations() Attestations
	Close() error
}

// SessionRecord is everything persisted for one session.
type SessionRecord struct {
	Session   model.Session
	Public    bool
	Attendees []model.Address
	Reviews   []model.ReviewRecord
}

type Sessions interface {
	// LoadAll returns every session ordered by id.
	LoadAll(ctx context.Context) ([]SessionRecord, error)
	// Commit upserts rec and appends facts in one transaction. The returned
	// facts carry their assigned ids.
	Commit(ctx context.Context, rec SessionRecord, facts []events.Fact) ([]events.Fact, error)
}

// Fact processing status in the outbox.
const (
	FactPending  = "pending"
	FactDone     = "done"
	FactRejected = "rejected"
)

// FactRow is a fact plus its outbox bookkeeping.
type FactRow struct {
	events.Fact
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

type Facts interface {
	// Pending returns up to limit pending facts of kind due at or before now,
	// oldest first.
	Pending(ctx context.Context, kind events.Kind, now time.Time, limit int) ([]FactRow, error)
	MarkDone(ctx context.Context, id int64) error
	// MarkFailed bumps the attempt count and defers the fact until next.
	MarkFailed(ctx context.Context, id int64, next time.Time, cause string) error
	// MarkRejected retires a fact that can never succeed.
	MarkRejected(ctx context.Context, id int64, cause string) error
	// List returns the fact log of one session, oldest first.
	List(ctx context.Context, sessionID model.SessionID) ([]FactRow, error)
}

// Blobs is the ciphertext store; it satisfies cipher.BlobStore.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Attestation is a signed decryption result awaiting organizer pickup.
type Attestation struct {
	SessionID model.SessionID
	Token     string
	Scores    model.Scores
	IssuedAt  time.Time
}

type Attestations interface {
	// Put stores or replaces the attestation for a.SessionID.
	Put(ctx context.Context, a Attestation) error
	Get(ctx context.Context, id model.SessionID) (Attestation, error)
}
