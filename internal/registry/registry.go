// Package registry is the session state machine. It owns every Session, its
// authorization and review ledgers and its encrypted accumulator, and applies
// one mutation at a time: checks, cipher work into temporaries, store commit,
// in-memory swap, then fact publication. A failure at any step leaves no
// observable change.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/ledger"
	"github.com/mewiskl/zama-Talklet-Review/internal/metrics"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// AttestationVerifier checks a signed decryption result against the session
// context it must cover.
type AttestationVerifier interface {
	VerifyAttestation(token string, id model.SessionID, handles model.Handles, scores model.Scores) error
}

// Options wires a Registry.
type Options struct {
	Store  store.Store
	Cipher cipher.Capability
	Bus    *events.Bus
	// Verifier, when nil, lets StoreDecryptedScores accept bare scores.
	Verifier AttestationVerifier
	Clock    func() time.Time
	Log      zerolog.Logger
}

type entry struct {
	session model.Session
	auth    *ledger.AuthorizationSet
	reviews *ledger.ReviewLedger
}

func (e *entry) clone() *entry {
	return &entry{session: e.session, auth: e.auth.Clone(), reviews: e.reviews.Clone()}
}

func (e *entry) record() store.SessionRecord {
	return store.SessionRecord{
		Session:   e.session,
		Public:    e.auth.Public(),
		Attendees: e.auth.Members(),
		Reviews:   e.reviews.Records(),
	}
}

// Registry holds all sessions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[model.SessionID]*entry
	nextID  model.SessionID
	// inputs maps every counted review ciphertext to its session. Only
	// tracked for randomized backends.
	inputs map[model.Handle]model.SessionID

	store    store.Store
	cipher   cipher.Capability
	bus      *events.Bus
	verifier AttestationVerifier
	now      func() time.Time
	log      zerolog.Logger
}

// New restores every persisted session and returns a ready registry.
func New(ctx context.Context, opts Options) (*Registry, error) {
	if opts.Store == nil || opts.Cipher == nil {
		return nil, fmt.Errorf("registry: store and cipher are required")
	}
	r := &Registry{
		entries:  make(map[model.SessionID]*entry),
		store:    opts.Store,
		cipher:   opts.Cipher,
		bus:      opts.Bus,
		verifier: opts.Verifier,
		now:      opts.Clock,
		log:      opts.Log,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if rc, ok := opts.Cipher.(cipher.Randomized); ok && rc.RandomizedInputs() {
		r.inputs = make(map[model.Handle]model.SessionID)
	}

	recs, err := opts.Store.Sessions().LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load sessions: %w", err)
	}
	for _, rec := range recs {
		reviews := ledger.NewReviewLedger()
		for _, rv := range rec.Reviews {
			reviews.Put(rv)
			r.trackInputs(rec.Session.ID, nil, rv.Handles)
		}
		r.entries[rec.Session.ID] = &entry{
			session: rec.Session,
			auth:    ledger.RestoreAuthorizationSet(rec.Public, rec.Attendees),
			reviews: reviews,
		}
		if rec.Session.ID >= r.nextID {
			r.nextID = rec.Session.ID + 1
		}
	}
	r.log.Info().Int("sessions", len(recs)).Uint64("next_id", uint64(r.nextID)).Msg("registry restored")
	return r, nil
}

// CanReplaceReviews reports whether the cipher backend supports resubmission.
func (r *Registry) CanReplaceReviews() bool {
	_, ok := r.cipher.(cipher.Subtractor)
	return ok
}

// trackInputs swaps a reviewer's counted ciphertexts from prev to cur.
// Callers hold r.mu or own r exclusively.
func (r *Registry) trackInputs(id model.SessionID, prev *model.Handles, cur model.Handles) {
	if r.inputs == nil {
		return
	}
	if prev != nil {
		for _, h := range prev {
			delete(r.inputs, h)
		}
	}
	for _, h := range cur {
		r.inputs[h] = id
	}
}

// replayed reports whether h is already counted somewhere or repeats an
// earlier field of the same submission.
func (r *Registry) replayed(h model.Handle, batch []model.Handle) bool {
	if r.inputs == nil {
		return false
	}
	if _, ok := r.inputs[h]; ok {
		return true
	}
	for _, b := range batch {
		if b == h {
			return true
		}
	}
	return false
}

func (r *Registry) lookup(id model.SessionID) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, model.SessionNotFound(id)
	}
	return e, nil
}

// canAdvance fails with PhaseError(msg) unless to is the legal successor of
// e's phase.
func canAdvance(e *entry, to model.Phase, msg string) error {
	if !e.session.Phase.CanAdvanceTo(to) {
		return model.NewError(model.CodePhaseError, msg)
	}
	return nil
}

func requireOrganizer(e *entry, caller model.Address) error {
	if caller != e.session.Organizer {
		return model.NewError(model.CodeUnauthorized, "Not organizer")
	}
	return nil
}

// commit persists next with its facts, swaps it in and publishes the facts.
// Callers hold r.mu.
func (r *Registry) commit(ctx context.Context, next *entry, facts []events.Fact) error {
	committed, err := r.store.Sessions().Commit(ctx, next.record(), facts)
	if err != nil {
		return fmt.Errorf("persist session %d: %w", next.session.ID, err)
	}
	r.entries[next.session.ID] = next
	for _, f := range committed {
		if r.bus.Publish(f) {
			metrics.FactsPublishedTotal.WithLabelValues(string(f.Kind)).Inc()
		} else {
			metrics.FactsDroppedTotal.WithLabelValues(string(f.Kind)).Inc()
		}
	}
	return nil
}

func (r *Registry) fact(kind events.Kind, id model.SessionID, payload any) (events.Fact, error) {
	return events.NewFact(kind, id, payload, r.now().UTC())
}

// observe records the outcome of op and logs failures that are not
// caller errors.
func (r *Registry) observe(op string, id model.SessionID, err error) {
	metrics.ObserveOperation(op, err)
	if err == nil {
		r.log.Debug().Str("op", op).Uint64("session_id", uint64(id)).Msg("registry op")
		return
	}
	if model.CodeOf(err) == "" {
		r.log.Error().Stack().Err(err).Str("op", op).Uint64("session_id", uint64(id)).Msg("registry op failed")
	}
}

// --- reads ---

// GetSession returns a snapshot of session id.
func (r *Registry) GetSession(id model.SessionID) (model.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(id)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return e.session.Snapshot(), nil
}

// SessionCount is the number of sessions ever created.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// sessionIDs lists every session id in ascending order.
func (r *Registry) sessionIDs() []model.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]model.SessionID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsAuthorized reports whether addr may submit to session id. Unknown ids
// report false.
func (r *Registry) IsAuthorized(id model.SessionID, addr model.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.auth.Allows(addr)
}

// HasReviewed reports whether addr has contributed to session id. Unknown
// ids report false.
func (r *Registry) HasReviewed(id model.SessionID, addr model.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.reviews.Has(addr)
}

// AuthorizedAttendees returns the explicit attendee list of session id and
// whether the session is public.
func (r *Registry) AuthorizedAttendees(id model.SessionID) ([]model.Address, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(id)
	if err != nil {
		return nil, false, err
	}
	return e.auth.Members(), e.auth.Public(), nil
}

// Review returns the metadata of addr's review. Handles are omitted.
func (r *Registry) Review(id model.SessionID, addr model.Address) (model.ReviewRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(id)
	if err != nil {
		return model.ReviewRecord{}, err
	}
	rec, ok := e.reviews.Get(addr)
	if !ok {
		return model.ReviewRecord{}, model.NewError(model.CodeNotFound, fmt.Sprintf("no review from %s", addr))
	}
	rec.Handles = model.Handles{}
	return rec, nil
}

// SessionHandles returns the accumulator handles of session id.
func (r *Registry) SessionHandles(id model.SessionID) (model.Handles, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(id)
	if err != nil {
		return model.Handles{}, err
	}
	return e.session.Accumulator, nil
}
