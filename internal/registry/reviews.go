package registry

import (
	"context"
	"fmt"
	"math"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// ReviewSubmission is one attendee's encrypted ratings plus plaintext metadata.
type ReviewSubmission struct {
	Clarity     cipher.EncryptedInput
	Innovation  cipher.EncryptedInput
	Inspiration cipher.EncryptedInput
	Tags        uint8
	// QADuration is in minutes.
	QADuration int64
}

func (s ReviewSubmission) inputs() [model.NumFields]cipher.EncryptedInput {
	return [model.NumFields]cipher.EncryptedInput{s.Clarity, s.Innovation, s.Inspiration}
}

// SubmitResult tells the caller whether an earlier review was replaced.
type SubmitResult struct {
	Replaced bool
	Revision int
}

// SubmitReview folds caller's encrypted ratings into the session accumulator.
// A returning reviewer replaces their earlier contribution when the cipher
// backend can subtract; otherwise the call fails with AlreadyReviewed.
func (r *Registry) SubmitReview(ctx context.Context, caller model.Address, id model.SessionID, sub ReviewSubmission) (res SubmitResult, err error) {
	defer func() { r.observe("submit_review", id, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.lookup(id)
	if err != nil {
		return res, err
	}
	if cur.session.Phase != model.PhaseActive {
		return res, model.NewError(model.CodePhaseError, "Session not active")
	}
	if caller.IsZero() || !cur.auth.Allows(caller) {
		return res, model.NewError(model.CodeUnauthorized, "Not authorized")
	}
	if !model.ValidTags(sub.Tags) {
		return res, model.NewError(model.CodeInvalidInput, fmt.Sprintf("unknown tag bits %#x", sub.Tags))
	}
	if sub.QADuration < 0 || sub.QADuration > math.MaxUint32 {
		return res, model.NewError(model.CodeInvalidInput, "Invalid Q&A duration")
	}

	prev, returning := cur.reviews.Get(caller)
	subtractor, canReplace := r.cipher.(cipher.Subtractor)
	if returning && !canReplace {
		return res, model.NewError(model.CodeAlreadyReviewed, "Already reviewed")
	}

	bind := cipher.Binding{SessionID: id, Submitter: caller}
	var fresh model.Handles
	for f, in := range sub.inputs() {
		h, err := r.cipher.ValidateAndIngest(ctx, in, bind)
		if err != nil {
			if model.CodeOf(err) == "" {
				return res, fmt.Errorf("ingest %s: %w", model.Field(f), err)
			}
			return res, err
		}
		if r.replayed(h, fresh[:f]) {
			return res, cipher.InvalidCiphertext(fmt.Sprintf("%s ciphertext already submitted", model.Field(f)), nil)
		}
		fresh[f] = h
	}

	acc := cur.session.Accumulator
	for f := range acc {
		base := acc[f]
		if returning {
			if base, err = subtractor.Subtract(ctx, base, prev.Handles[f]); err != nil {
				return res, fmt.Errorf("remove previous %s: %w", model.Field(f), err)
			}
		}
		if acc[f], err = r.cipher.Combine(ctx, base, fresh[f]); err != nil {
			return res, fmt.Errorf("combine %s: %w", model.Field(f), err)
		}
	}

	next := cur.clone()
	next.session.Accumulator = acc
	rec := model.ReviewRecord{
		Reviewer:    caller,
		Tags:        sub.Tags,
		QADuration:  uint32(sub.QADuration),
		Handles:     fresh,
		SubmittedAt: r.now().UTC(),
	}
	if returning {
		rec.Revision = prev.Revision + 1
	}
	next.reviews.Put(rec)
	next.session.ReviewCount = next.reviews.Count()

	f, err := r.fact(events.KindReviewSubmitted, id, events.ReviewSubmittedPayload{Reviewer: caller, Replaced: returning})
	if err != nil {
		return res, err
	}
	if err := r.commit(ctx, next, []events.Fact{f}); err != nil {
		return res, err
	}
	if returning {
		r.trackInputs(id, &prev.Handles, fresh)
	} else {
		r.trackInputs(id, nil, fresh)
	}
	return SubmitResult{Replaced: returning, Revision: rec.Revision}, nil
}
