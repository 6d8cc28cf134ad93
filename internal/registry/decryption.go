package registry

import (
	"context"

	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// MaxGrantDays bounds a decryption grant window.
const MaxGrantDays = 365

func validateGrant(g model.DecryptionGrant) error {
	if g.StartTimestamp <= 0 {
		return model.NewError(model.CodeInvalidInput, "grant start timestamp required")
	}
	if g.DurationDays < 1 || g.DurationDays > MaxGrantDays {
		return model.NewError(model.CodeInvalidInput, "grant duration must be 1-365 days")
	}
	return nil
}

func (r *Registry) decryptionFact(e *entry, g model.DecryptionGrant) (events.Fact, error) {
	return r.fact(events.KindDecryptionRequested, e.session.ID, events.DecryptionRequestedPayload{
		Organizer: e.session.Organizer,
		Handles:   e.session.Accumulator,
		Grant:     g,
	})
}

// RequestDecryption marks a closed session's accumulator for decryption by
// the oracle within the organizer's grant window.
func (r *Registry) RequestDecryption(ctx context.Context, caller model.Address, id model.SessionID, grant model.DecryptionGrant) (err error) {
	defer func() { r.observe("request_decryption", id, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := requireOrganizer(cur, caller); err != nil {
		return err
	}
	if err := canAdvance(cur, model.PhaseDecryptionRequested, "Session not closed"); err != nil {
		return err
	}
	if cur.session.ReviewCount == 0 {
		return model.NewError(model.CodeNoData, "No reviews yet")
	}
	if err := validateGrant(grant); err != nil {
		return err
	}

	next := cur.clone()
	now := r.now().UTC()
	next.session.Phase = model.PhaseDecryptionRequested
	next.session.DecryptionRequestedAt = &now

	f, err := r.decryptionFact(next, grant)
	if err != nil {
		return err
	}
	return r.commit(ctx, next, []events.Fact{f})
}

// RenewDecryptionGrant re-issues the decryption request with a new grant
// window, e.g. after the previous one expired. The phase is unchanged.
func (r *Registry) RenewDecryptionGrant(ctx context.Context, caller model.Address, id model.SessionID, grant model.DecryptionGrant) (err error) {
	defer func() { r.observe("renew_decryption_grant", id, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := requireOrganizer(cur, caller); err != nil {
		return err
	}
	if cur.session.Phase != model.PhaseDecryptionRequested {
		return model.NewError(model.CodePhaseError, "Session not awaiting decryption")
	}
	if err := validateGrant(grant); err != nil {
		return err
	}

	f, err := r.decryptionFact(cur, grant)
	if err != nil {
		return err
	}
	return r.commit(ctx, cur.clone(), []events.Fact{f})
}

// StoreDecryptedScores commits the plaintext totals exactly once. With a
// verifier configured, attestation must be a valid oracle signature over
// this session, its accumulator handles and exactly these scores.
func (r *Registry) StoreDecryptedScores(ctx context.Context, caller model.Address, id model.SessionID, scores model.Scores, attestation string) (err error) {
	defer func() { r.observe("store_decrypted_scores", id, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := requireOrganizer(cur, caller); err != nil {
		return err
	}
	if err := canAdvance(cur, model.PhaseDecrypted, "Session not awaiting decryption"); err != nil {
		return err
	}
	if r.verifier != nil {
		if attestation == "" {
			return model.NewError(model.CodeInvalidAttestation, "attestation required")
		}
		if err := r.verifier.VerifyAttestation(attestation, id, cur.session.Accumulator, scores); err != nil {
			return model.WrapError(model.CodeInvalidAttestation, "attestation rejected", err)
		}
	}

	next := cur.clone()
	now := r.now().UTC()
	next.session.Phase = model.PhaseDecrypted
	next.session.Aggregate = scores
	next.session.DecryptedAt = &now

	f, err := r.fact(events.KindScoresDecrypted, id, nil)
	if err != nil {
		return err
	}
	return r.commit(ctx, next, []events.Fact{f})
}

// Averages returns per-field means over the review count of a decrypted
// session. Overall is the mean of the three field averages.
func (r *Registry) Averages(id model.SessionID) (model.Averages, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.lookup(id)
	if err != nil {
		return model.Averages{}, err
	}
	if !e.session.IsDecrypted() {
		return model.Averages{}, model.NewError(model.CodePhaseError, "Session not decrypted")
	}
	if e.session.ReviewCount == 0 {
		return model.Averages{}, model.NewError(model.CodeNoData, "No reviews yet")
	}
	n := float64(e.session.ReviewCount)
	a := model.Averages{
		Clarity:     float64(e.session.Aggregate.Clarity) / n,
		Innovation:  float64(e.session.Aggregate.Innovation) / n,
		Inspiration: float64(e.session.Aggregate.Inspiration) / n,
	}
	a.Overall = (a.Clarity + a.Innovation + a.Inspiration) / 3
	return a, nil
}
