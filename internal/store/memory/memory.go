// Package memory is an in-process store.Store used for tests and dev mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	sessions     map[model.SessionID]store.SessionRecord
	facts        []store.FactRow
	nextFact     int64
	attestations map[model.SessionID]store.Attestation
	blobs        *cipher.MemoryBlobs

	// failCommit, when set, makes the next Commit fail.
	failCommit error
}

func New() *Store {
	return &Store{
		sessions:     make(map[model.SessionID]store.SessionRecord),
		attestations: make(map[model.SessionID]store.Attestation),
		blobs:        cipher.NewMemoryBlobs(),
		nextFact:     1,
	}
}

func (s *Store) Sessions() store.Sessions         { return sessions{s} }
func (s *Store) Facts() store.Facts               { return facts{s} }
func (s *Store) Blobs() store.Blobs               { return s.blobs }
func (s *Store) Attestations() store.Attestations { return attestations{s} }
func (s *Store) Close() error                     { return nil }

// FailNextCommit makes the next Sessions().Commit return err without writing.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

type sessions struct{ m *Store }

func (r sessions) LoadAll(_ context.Context) ([]store.SessionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]store.SessionRecord, 0, len(r.m.sessions))
	for _, rec := range r.m.sessions {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session.ID < out[j].Session.ID })
	return out, nil
}

func (r sessions) Commit(_ context.Context, rec store.SessionRecord, fs []events.Fact) ([]events.Fact, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.failCommit; err != nil {
		r.m.failCommit = nil
		return nil, err
	}
	r.m.sessions[rec.Session.ID] = cloneRecord(rec)
	out := make([]events.Fact, len(fs))
	for i, f := range fs {
		f.ID = r.m.nextFact
		r.m.nextFact++
		r.m.facts = append(r.m.facts, store.FactRow{Fact: f, Status: store.FactPending, NextAttemptAt: f.CreatedAt})
		out[i] = f
	}
	return out, nil
}

func cloneRecord(rec store.SessionRecord) store.SessionRecord {
	out := rec
	out.Attendees = append([]model.Address(nil), rec.Attendees...)
	out.Reviews = append([]model.ReviewRecord(nil), rec.Reviews...)
	out.Session.ClosedAt = cloneTime(rec.Session.ClosedAt)
	out.Session.DecryptionRequestedAt = cloneTime(rec.Session.DecryptionRequestedAt)
	out.Session.DecryptedAt = cloneTime(rec.Session.DecryptedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type facts struct{ m *Store }

func (r facts) Pending(_ context.Context, kind events.Kind, now time.Time, limit int) ([]store.FactRow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []store.FactRow
	for _, f := range r.m.facts {
		if limit > 0 && len(out) == limit {
			break
		}
		if f.Kind == kind && f.Status == store.FactPending && !f.NextAttemptAt.After(now) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r facts) update(id int64, fn func(*store.FactRow)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.facts {
		if r.m.facts[i].ID == id {
			fn(&r.m.facts[i])
			return nil
		}
	}
	return fmt.Errorf("fact %d: %w", id, store.ErrNotFound)
}

func (r facts) MarkDone(_ context.Context, id int64) error {
	return r.update(id, func(f *store.FactRow) { f.Status = store.FactDone })
}

func (r facts) MarkFailed(_ context.Context, id int64, next time.Time, cause string) error {
	return r.update(id, func(f *store.FactRow) {
		f.Attempts++
		f.NextAttemptAt = next
		f.LastError = cause
	})
}

func (r facts) MarkRejected(_ context.Context, id int64, cause string) error {
	return r.update(id, func(f *store.FactRow) {
		f.Status = store.FactRejected
		f.LastError = cause
	})
}

func (r facts) List(_ context.Context, sessionID model.SessionID) ([]store.FactRow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []store.FactRow
	for _, f := range r.m.facts {
		if f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	return out, nil
}

type attestations struct{ m *Store }

func (r attestations) Put(_ context.Context, a store.Attestation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.attestations[a.SessionID] = a
	return nil
}

func (r attestations) Get(_ context.Context, id model.SessionID) (store.Attestation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.attestations[id]
	if !ok {
		return store.Attestation{}, fmt.Errorf("attestation for session %d: %w", id, store.ErrNotFound)
	}
	return a, nil
}
