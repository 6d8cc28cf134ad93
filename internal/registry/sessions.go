package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/ledger"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// MaxTitleLength bounds session titles in bytes.
const MaxTitleLength = 512

// CreateSession registers a new Active session organized by caller. An empty
// attendee list makes the session public for its whole lifetime.
func (r *Registry) CreateSession(ctx context.Context, caller model.Address, title string, speaker model.Address, attendees []model.Address) (id model.SessionID, err error) {
	defer func() { r.observe("create_session", id, err) }()

	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return 0, model.NewError(model.CodeInvalidInput, "Empty title")
	case len(title) > MaxTitleLength:
		return 0, model.NewError(model.CodeInvalidInput, fmt.Sprintf("title longer than %d bytes", MaxTitleLength))
	case speaker.IsZero():
		return 0, model.NewError(model.CodeInvalidInput, "Invalid speaker address")
	case caller.IsZero():
		return 0, model.NewError(model.CodeUnauthorized, "caller identity required")
	}
	for _, a := range attendees {
		if a.IsZero() {
			return 0, model.NewError(model.CodeInvalidInput, "Invalid attendee address")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := &entry{
		session: model.Session{
			ID:        r.nextID,
			Title:     title,
			Speaker:   speaker,
			Organizer: caller,
			CreatedAt: r.now().UTC(),
			Phase:     model.PhaseActive,
		},
		auth:    ledger.NewAuthorizationSet(attendees),
		reviews: ledger.NewReviewLedger(),
	}
	for f := range next.session.Accumulator {
		h, err := r.cipher.Zero(ctx)
		if err != nil {
			return 0, fmt.Errorf("initialise accumulator: %w", err)
		}
		next.session.Accumulator[f] = h
	}

	created, err := r.fact(events.KindSessionCreated, next.session.ID, events.SessionCreatedPayload{
		Title:     title,
		Speaker:   speaker,
		Organizer: caller,
		Public:    next.auth.Public(),
	})
	if err != nil {
		return 0, err
	}
	if err := r.commit(ctx, next, []events.Fact{created}); err != nil {
		return 0, err
	}
	r.nextID++
	return next.session.ID, nil
}

// AuthorizeAttendees adds addrs to the session's attendee list. It is
// idempotent and allowed in any phase. A public session stays public.
func (r *Registry) AuthorizeAttendees(ctx context.Context, caller model.Address, id model.SessionID, addrs []model.Address) (err error) {
	defer func() { r.observe("authorize_attendees", id, err) }()

	for _, a := range addrs {
		if a.IsZero() {
			return model.NewError(model.CodeInvalidInput, "Invalid attendee address")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := requireOrganizer(cur, caller); err != nil {
		return err
	}

	next := cur.clone()
	added := next.auth.Authorize(addrs)
	if len(added) == 0 {
		return nil
	}
	f, err := r.fact(events.KindAttendeesAuthorized, id, events.AttendeesAuthorizedPayload{Added: added})
	if err != nil {
		return err
	}
	return r.commit(ctx, next, []events.Fact{f})
}

// CloseSession ends the review window. It is irreversible.
func (r *Registry) CloseSession(ctx context.Context, caller model.Address, id model.SessionID) (err error) {
	defer func() { r.observe("close_session", id, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := requireOrganizer(cur, caller); err != nil {
		return err
	}
	if err := canAdvance(cur, model.PhaseClosed, "Session not active"); err != nil {
		return err
	}

	next := cur.clone()
	now := r.now().UTC()
	next.session.Phase = model.PhaseClosed
	next.session.ClosedAt = &now

	f, err := r.fact(events.KindSessionClosed, id, nil)
	if err != nil {
		return err
	}
	return r.commit(ctx, next, []events.Fact{f})
}
