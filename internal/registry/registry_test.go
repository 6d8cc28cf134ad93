package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher/mock"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store/memory"
)

func addr(n int) model.Address { return model.Address(fmt.Sprintf("0x%040x", n)) }

var (
	organizer = addr(1)
	speaker   = addr(2)
	x         = addr(10)
	y         = addr(11)
	z         = addr(12)
)

type harness struct {
	reg     *Registry
	store   *memory.Store
	backend *mock.Backend
	binder  *cipher.InputBinder
	bus     *events.Bus
	now     time.Time
}

type option func(*Options, *harness)

func withAddOnly() option {
	return func(o *Options, h *harness) { o.Cipher = mock.NewAddOnly(h.backend) }
}

// randomized presents the mock as a probabilistic backend so copied
// ciphertexts are detectable by handle.
type randomized struct{ *mock.Backend }

func (randomized) RandomizedInputs() bool { return true }

func withRandomized() option {
	return func(o *Options, h *harness) { o.Cipher = randomized{h.backend} }
}

// flakyBlobs fails every Put once armed.
type flakyBlobs struct {
	cipher.BlobStore
	armed atomic.Bool
	err   error
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.armed.Load() {
		return f.err
	}
	return f.BlobStore.Put(ctx, key, data)
}

func withBlobs(b cipher.BlobStore) option {
	return func(o *Options, h *harness) {
		h.backend = mock.New(h.binder, b)
		o.Cipher = h.backend
	}
}

func withVerifier(v AttestationVerifier) option {
	return func(o *Options, _ *harness) { o.Verifier = v }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	ib, err := cipher.NewInputBinder([]byte("registry-test-key"))
	require.NoError(t, err)
	st := memory.New()
	h := &harness{
		store:   st,
		binder:  ib,
		backend: mock.New(ib, st.Blobs()),
		bus:     events.NewBus(256),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	o := Options{
		Store:  st,
		Cipher: h.backend,
		Bus:    h.bus,
		Clock:  func() time.Time { return h.now },
		Log:    zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o, h)
	}
	h.reg, err = New(context.Background(), o)
	require.NoError(t, err)
	return h
}

func (h *harness) review(id model.SessionID, who model.Address, c, i, s uint32) ReviewSubmission {
	bind := cipher.Binding{SessionID: id, Submitter: who}
	return ReviewSubmission{
		Clarity:     h.binder.Seal(mock.Encode(c), bind),
		Innovation:  h.binder.Seal(mock.Encode(i), bind),
		Inspiration: h.binder.Seal(mock.Encode(s), bind),
		Tags:        model.TagTechnical,
		QADuration:  15,
	}
}

func (h *harness) create(t *testing.T, attendees ...model.Address) model.SessionID {
	t.Helper()
	id, err := h.reg.CreateSession(context.Background(), organizer, "Zero-knowledge for humans", speaker, attendees)
	require.NoError(t, err)
	return id
}

func (h *harness) submit(t *testing.T, id model.SessionID, who model.Address, c, i, s uint32) SubmitResult {
	t.Helper()
	res, err := h.reg.SubmitReview(context.Background(), who, id, h.review(id, who, c, i, s))
	require.NoError(t, err)
	return res
}

func (h *harness) totals(t *testing.T, id model.SessionID) model.Scores {
	t.Helper()
	handles, err := h.reg.SessionHandles(id)
	require.NoError(t, err)
	var v [model.NumFields]uint32
	for f := range handles {
		v[f], err = h.backend.Decrypt(context.Background(), handles[f])
		require.NoError(t, err)
	}
	return model.ScoresFromArray(v)
}

func (h *harness) factKinds(t *testing.T, id model.SessionID) []events.Kind {
	t.Helper()
	rows, err := h.store.Facts().List(context.Background(), id)
	require.NoError(t, err)
	var kinds []events.Kind
	for _, r := range rows {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

var grant = model.DecryptionGrant{StartTimestamp: 1_772_000_000, DurationDays: 10}

func assertCode(t *testing.T, err error, code model.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, model.CodeOf(err), "error: %v", err)
}

func TestIDsAreMonotonicAndNeverReused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, model.SessionID(0), h.create(t))
	assert.Equal(t, model.SessionID(1), h.create(t, x))

	_, err := h.reg.CreateSession(ctx, organizer, "   ", speaker, nil)
	assertCode(t, err, model.CodeInvalidInput)

	h.store.FailNextCommit(errors.New("disk full"))
	_, err = h.reg.CreateSession(ctx, organizer, "t", speaker, nil)
	require.Error(t, err)

	assert.Equal(t, model.SessionID(2), h.create(t))
	assert.Equal(t, 3, h.reg.SessionCount())
	assert.Equal(t, []model.SessionID{0, 1, 2}, h.reg.sessionIDs())
}

func TestScenarioA_AggregateOfTwoReviews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, x, y)

	h.submit(t, id, x, 8, 9, 7)
	h.submit(t, id, y, 9, 8, 10)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))

	assert.Equal(t, model.Scores{Clarity: 17, Innovation: 17, Inspiration: 17}, h.totals(t, id))
	require.NoError(t, h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{Clarity: 17, Innovation: 17, Inspiration: 17}, ""))

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ReviewCount)
	assert.Equal(t, "Decrypted", snap.Phase)
	assert.True(t, snap.IsDecrypted)
	require.NotNil(t, snap.Aggregate)
	assert.Equal(t, model.Scores{Clarity: 17, Innovation: 17, Inspiration: 17}, *snap.Aggregate)

	avg, err := h.reg.Averages(id)
	require.NoError(t, err)
	assert.InDelta(t, 8.5, avg.Clarity, 1e-9)
	assert.InDelta(t, 8.5, avg.Overall, 1e-9)

	assert.Equal(t, []events.Kind{
		events.KindSessionCreated,
		events.KindReviewSubmitted,
		events.KindReviewSubmitted,
		events.KindSessionClosed,
		events.KindDecryptionRequested,
		events.KindScoresDecrypted,
	}, h.factKinds(t, id))
}

func TestScenarioB_PublicSessionAdmitsAnyone(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)

	assert.True(t, h.reg.IsAuthorized(id, z))
	h.submit(t, id, z, 5, 5, 5)
	assert.True(t, h.reg.HasReviewed(id, z))

	// adds are recorded but the gate stays open
	require.NoError(t, h.reg.AuthorizeAttendees(context.Background(), organizer, id, []model.Address{x}))
	members, public, err := h.reg.AuthorizedAttendees(id)
	require.NoError(t, err)
	assert.True(t, public)
	assert.Equal(t, []model.Address{x}, members)
	h.submit(t, id, y, 1, 1, 1)
}

func TestScenarioC_InvalidCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reg.CreateSession(ctx, organizer, "", speaker, nil)
	assertCode(t, err, model.CodeInvalidInput)
	_, err = h.reg.CreateSession(ctx, organizer, "title", model.ZeroAddress, nil)
	assertCode(t, err, model.CodeInvalidInput)
	_, err = h.reg.CreateSession(ctx, organizer, "title", speaker, []model.Address{x, model.ZeroAddress})
	assertCode(t, err, model.CodeInvalidInput)

	assert.Equal(t, 0, h.reg.SessionCount())
	_, err = h.reg.GetSession(0)
	assertCode(t, err, model.CodeNotFound)
}

func TestAuthorizationGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, x)

	_, err := h.reg.SubmitReview(ctx, y, id, h.review(id, y, 1, 1, 1))
	assertCode(t, err, model.CodeUnauthorized)
	_, err = h.reg.SubmitReview(ctx, organizer, id, h.review(id, organizer, 1, 1, 1))
	assertCode(t, err, model.CodeUnauthorized)

	err = h.reg.AuthorizeAttendees(ctx, x, id, []model.Address{y})
	assertCode(t, err, model.CodeUnauthorized)
	err = h.reg.AuthorizeAttendees(ctx, organizer, 99, []model.Address{y})
	assertCode(t, err, model.CodeNotFound)

	require.NoError(t, h.reg.AuthorizeAttendees(ctx, organizer, id, []model.Address{y, x}))
	require.NoError(t, h.reg.AuthorizeAttendees(ctx, organizer, id, []model.Address{y}))
	h.submit(t, id, y, 1, 1, 1)

	members, public, err := h.reg.AuthorizedAttendees(id)
	require.NoError(t, err)
	assert.False(t, public)
	assert.Equal(t, []model.Address{x, y}, members)

	// the second, no-op authorize emitted nothing
	assert.Equal(t, []events.Kind{events.KindSessionCreated, events.KindAttendeesAuthorized, events.KindReviewSubmitted}, h.factKinds(t, id))

	assert.False(t, h.reg.IsAuthorized(99, x))
	assert.False(t, h.reg.HasReviewed(99, x))
}

func TestAuthorizeAfterCloseIsAllowedButCannotSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, x)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))

	require.NoError(t, h.reg.AuthorizeAttendees(ctx, organizer, id, []model.Address{y}))
	_, err := h.reg.SubmitReview(ctx, y, id, h.review(id, y, 1, 1, 1))
	assertCode(t, err, model.CodePhaseError)
}

func TestPhaseGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 3, 3, 3)

	err := h.reg.RequestDecryption(ctx, organizer, id, grant)
	assertCode(t, err, model.CodePhaseError)
	err = h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{}, "")
	assertCode(t, err, model.CodePhaseError)

	assertCode(t, h.reg.CloseSession(ctx, x, id), model.CodeUnauthorized)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	assertCode(t, h.reg.CloseSession(ctx, organizer, id), model.CodePhaseError)

	_, err = h.reg.SubmitReview(ctx, y, id, h.review(id, y, 1, 1, 1))
	assertCode(t, err, model.CodePhaseError)

	err = h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{}, "")
	assertCode(t, err, model.CodePhaseError)

	assertCode(t, h.reg.RequestDecryption(ctx, x, id, grant), model.CodeUnauthorized)
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))
	assertCode(t, h.reg.RequestDecryption(ctx, organizer, id, grant), model.CodePhaseError)
}

func TestCountInvariant(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	const n = 7
	for i := 0; i < n; i++ {
		h.submit(t, id, addr(100+i), 1, 2, 3)
	}
	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, n, snap.ReviewCount)
	assert.Equal(t, model.Scores{Clarity: n, Innovation: 2 * n, Inspiration: 3 * n}, h.totals(t, id))
}

func TestNoReviewsGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, x)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))

	err := h.reg.RequestDecryption(ctx, organizer, id, grant)
	assertCode(t, err, model.CodeNoData)
	assert.Equal(t, "NoData: No reviews yet", err.Error())

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, "Closed", snap.Phase)
}

func TestRequestDecryptionValidatesGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 1, 1, 1)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))

	assertCode(t, h.reg.RequestDecryption(ctx, organizer, id, model.DecryptionGrant{StartTimestamp: 1, DurationDays: 0}), model.CodeInvalidInput)
	assertCode(t, h.reg.RequestDecryption(ctx, organizer, id, model.DecryptionGrant{DurationDays: 1}), model.CodeInvalidInput)
}

func TestSingleCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 4, 4, 4)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))

	assertCode(t, h.reg.StoreDecryptedScores(ctx, x, id, model.Scores{Clarity: 4}, ""), model.CodeUnauthorized)
	require.NoError(t, h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{Clarity: 4, Innovation: 4, Inspiration: 4}, ""))
	err := h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{Clarity: 99}, "")
	assertCode(t, err, model.CodePhaseError)

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, model.Scores{Clarity: 4, Innovation: 4, Inspiration: 4}, *snap.Aggregate)
}

func TestResubmissionReplacesContribution(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.reg.CanReplaceReviews())
	id := h.create(t)

	h.submit(t, id, x, 1, 2, 3)
	h.submit(t, id, y, 10, 10, 10)
	res := h.submit(t, id, x, 4, 5, 6)
	assert.True(t, res.Replaced)
	assert.Equal(t, 1, res.Revision)

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ReviewCount)
	assert.Equal(t, model.Scores{Clarity: 14, Innovation: 15, Inspiration: 16}, h.totals(t, id))

	rec, err := h.reg.Review(id, x)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Revision)
	assert.Equal(t, model.Handles{}, rec.Handles)
}

func TestResubmissionRejectedWithoutSubtraction(t *testing.T) {
	h := newHarness(t, withAddOnly())
	require.False(t, h.reg.CanReplaceReviews())
	id := h.create(t)

	h.submit(t, id, x, 1, 2, 3)
	_, err := h.reg.SubmitReview(context.Background(), x, id, h.review(id, x, 9, 9, 9))
	assertCode(t, err, model.CodeAlreadyReviewed)

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ReviewCount)
	assert.Equal(t, model.Scores{Clarity: 1, Innovation: 2, Inspiration: 3}, h.totals(t, id))
}

func TestReplayedProofIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)
	b := h.create(t)

	fromA := h.review(a, x, 9, 9, 9)
	_, err := h.reg.SubmitReview(ctx, x, b, fromA)
	assertCode(t, err, model.CodeInvalidCiphertext)

	_, err = h.reg.SubmitReview(ctx, y, a, fromA)
	assertCode(t, err, model.CodeInvalidCiphertext)

	// one bad field poisons the whole submission
	mixed := h.review(b, x, 1, 1, 1)
	mixed.Inspiration = fromA.Inspiration
	_, err = h.reg.SubmitReview(ctx, x, b, mixed)
	assertCode(t, err, model.CodeInvalidCiphertext)

	assert.False(t, h.reg.HasReviewed(b, x))
	assert.Equal(t, model.Scores{}, h.totals(t, b))
}

func TestCopiedCiphertextIsRejected(t *testing.T) {
	h := newHarness(t, withRandomized())
	ctx := context.Background()
	id := h.create(t, x, y)
	other := h.create(t, y)

	fromX := h.review(id, x, 8, 9, 7)
	_, err := h.reg.SubmitReview(ctx, x, id, fromX)
	require.NoError(t, err)

	// y re-seals x's exact ciphertexts under its own binding
	resealed := func(sid model.SessionID) ReviewSubmission {
		bind := cipher.Binding{SessionID: sid, Submitter: y}
		return ReviewSubmission{
			Clarity:     h.binder.Seal(fromX.Clarity.Ciphertext, bind),
			Innovation:  h.binder.Seal(fromX.Innovation.Ciphertext, bind),
			Inspiration: h.binder.Seal(fromX.Inspiration.Ciphertext, bind),
		}
	}
	_, err = h.reg.SubmitReview(ctx, y, id, resealed(id))
	assertCode(t, err, model.CodeInvalidCiphertext)
	_, err = h.reg.SubmitReview(ctx, y, other, resealed(other))
	assertCode(t, err, model.CodeInvalidCiphertext)

	// the same ciphertext in two fields of one submission
	_, err = h.reg.SubmitReview(ctx, y, id, h.review(id, y, 5, 5, 5))
	assertCode(t, err, model.CodeInvalidCiphertext)

	assert.False(t, h.reg.HasReviewed(id, y))
	assert.Equal(t, model.Scores{Clarity: 8, Innovation: 9, Inspiration: 7}, h.totals(t, id))

	// a restored registry still knows x's ciphertexts
	reg2, err := New(ctx, Options{Store: h.store, Cipher: randomized{h.backend}, Log: zerolog.Nop()})
	require.NoError(t, err)
	_, err = reg2.SubmitReview(ctx, y, id, resealed(id))
	assertCode(t, err, model.CodeInvalidCiphertext)
}

func TestFailedCommitDoesNotBurnCiphertexts(t *testing.T) {
	h := newHarness(t, withRandomized())
	ctx := context.Background()
	id := h.create(t, x)

	sub := h.review(id, x, 4, 6, 10)
	h.store.FailNextCommit(errors.New("disk full"))
	_, err := h.reg.SubmitReview(ctx, x, id, sub)
	require.Error(t, err)

	_, err = h.reg.SubmitReview(ctx, x, id, sub)
	require.NoError(t, err)
}

func TestOutOfRangeRatingIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	sub := h.review(id, x, 8, 9, 7)
	sub.Clarity = h.binder.Seal(mock.Encode(65536), cipher.Binding{SessionID: id, Submitter: x})
	_, err := h.reg.SubmitReview(ctx, x, id, sub)
	assertCode(t, err, model.CodeInvalidCiphertext)
	assert.Equal(t, model.Scores{}, h.totals(t, id))
}

func TestIngestStorageFailureIsNotACiphertextError(t *testing.T) {
	boom := errors.New("blob store offline")
	blobs := &flakyBlobs{BlobStore: cipher.NewMemoryBlobs(), err: boom}
	h := newHarness(t, withBlobs(blobs))
	ctx := context.Background()
	id := h.create(t)

	blobs.armed.Store(true)
	_, err := h.reg.SubmitReview(ctx, x, id, h.review(id, x, 3, 3, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, model.CodeOf(err))
	assert.False(t, h.reg.HasReviewed(id, x))
}

func TestDecryptedIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 3, 3, 3)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))
	require.NoError(t, h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{Clarity: 3, Innovation: 3, Inspiration: 3}, ""))

	assertCode(t, h.reg.CloseSession(ctx, organizer, id), model.CodePhaseError)
	assertCode(t, h.reg.RequestDecryption(ctx, organizer, id, grant), model.CodePhaseError)
	assertCode(t, h.reg.RenewDecryptionGrant(ctx, organizer, id, grant), model.CodePhaseError)
	err := h.reg.StoreDecryptedScores(ctx, organizer, id, model.Scores{}, "")
	assertCode(t, err, model.CodePhaseError)
}

func TestSubmitValidatesMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	sub := h.review(id, x, 1, 1, 1)
	sub.Tags = 0x08
	_, err := h.reg.SubmitReview(ctx, x, id, sub)
	assertCode(t, err, model.CodeInvalidInput)

	sub = h.review(id, x, 1, 1, 1)
	sub.QADuration = -1
	_, err = h.reg.SubmitReview(ctx, x, id, sub)
	assertCode(t, err, model.CodeInvalidInput)

	_, err = h.reg.SubmitReview(ctx, x, 42, sub)
	assertCode(t, err, model.CodeNotFound)
}

func TestFailedSubmitLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 2, 2, 2)
	before, err := h.reg.SessionHandles(id)
	require.NoError(t, err)
	kinds := h.factKinds(t, id)

	h.backend.FailCombine(errors.New("evaluator crashed"))
	_, err = h.reg.SubmitReview(ctx, y, id, h.review(id, y, 5, 5, 5))
	require.Error(t, err)
	h.backend.FailCombine(nil)

	h.store.FailNextCommit(errors.New("disk full"))
	_, err = h.reg.SubmitReview(ctx, y, id, h.review(id, y, 5, 5, 5))
	require.Error(t, err)

	after, err := h.reg.SessionHandles(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, h.reg.HasReviewed(id, y))
	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ReviewCount)
	assert.Equal(t, kinds, h.factKinds(t, id))

	// restoring from the store shows the same state
	reg2, err := New(ctx, Options{Store: h.store, Cipher: h.backend, Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.False(t, reg2.HasReviewed(id, y))
}

func TestRestoreFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gated := h.create(t, x)
	h.submit(t, gated, x, 3, 4, 5)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, gated))
	public := h.create(t)

	reg2, err := New(ctx, Options{Store: h.store, Cipher: h.backend, Log: zerolog.Nop()})
	require.NoError(t, err)

	assert.Equal(t, 2, reg2.SessionCount())
	assert.True(t, reg2.HasReviewed(gated, x))
	assert.False(t, reg2.IsAuthorized(gated, y))
	assert.True(t, reg2.IsAuthorized(public, y))

	want, _ := h.reg.GetSession(gated)
	got, err := reg2.GetSession(gated)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	id, err := reg2.CreateSession(ctx, organizer, "after restart", speaker, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SessionID(2), id)
}

func TestFactsArePublishedAfterCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 1, 1, 1)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))

	var got []events.Fact
	for len(got) < 4 {
		got = append(got, <-h.bus.Subscribe())
	}
	assert.Equal(t, events.KindSessionCreated, got[0].Kind)
	assert.NotZero(t, got[0].ID)

	last := got[3]
	require.Equal(t, events.KindDecryptionRequested, last.Kind)
	var p events.DecryptionRequestedPayload
	require.NoError(t, last.Decode(&p))
	handles, err := h.reg.SessionHandles(id)
	require.NoError(t, err)
	assert.Equal(t, handles, p.Handles)
	assert.Equal(t, organizer, p.Organizer)
	assert.Equal(t, grant, p.Grant)

	var rs events.ReviewSubmittedPayload
	require.NoError(t, got[1].Decode(&rs))
	assert.Equal(t, x, rs.Reviewer)
	assert.NotContains(t, string(got[1].Payload), "clarity")
}

func TestRenewDecryptionGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 1, 1, 1)

	renewed := model.DecryptionGrant{StartTimestamp: grant.StartTimestamp + 86400*30, DurationDays: 3}
	assertCode(t, h.reg.RenewDecryptionGrant(ctx, organizer, id, renewed), model.CodePhaseError)

	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))
	assertCode(t, h.reg.RenewDecryptionGrant(ctx, x, id, renewed), model.CodeUnauthorized)
	require.NoError(t, h.reg.RenewDecryptionGrant(ctx, organizer, id, renewed))

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, "DecryptionRequested", snap.Phase)

	rows, err := h.store.Facts().Pending(ctx, events.KindDecryptionRequested, time.Now().Add(time.Hour*24*365*10), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var p events.DecryptionRequestedPayload
	require.NoError(t, rows[1].Decode(&p))
	assert.Equal(t, renewed, p.Grant)
}

func TestAveragesRequireDecryption(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	_, err := h.reg.Averages(id)
	assertCode(t, err, model.CodePhaseError)
	_, err = h.reg.Averages(77)
	assertCode(t, err, model.CodeNotFound)
}

type fakeVerifier struct {
	token string
}

func (f fakeVerifier) VerifyAttestation(token string, id model.SessionID, handles model.Handles, scores model.Scores) error {
	want := fmt.Sprintf("%d|%s|%s|%s|%d|%d|%d", id, handles[0], handles[1], handles[2], scores.Clarity, scores.Innovation, scores.Inspiration)
	if token != want {
		return errors.New("signature mismatch")
	}
	return nil
}

func TestAttestationIsRequiredAndChecked(t *testing.T) {
	h := newHarness(t, withVerifier(fakeVerifier{}))
	ctx := context.Background()
	id := h.create(t)
	h.submit(t, id, x, 8, 9, 7)
	h.submit(t, id, y, 9, 8, 10)
	require.NoError(t, h.reg.CloseSession(ctx, organizer, id))
	require.NoError(t, h.reg.RequestDecryption(ctx, organizer, id, grant))

	handles, err := h.reg.SessionHandles(id)
	require.NoError(t, err)
	good := model.Scores{Clarity: 17, Innovation: 17, Inspiration: 17}
	token := fmt.Sprintf("%d|%s|%s|%s|17|17|17", id, handles[0], handles[1], handles[2])

	assertCode(t, h.reg.StoreDecryptedScores(ctx, organizer, id, good, ""), model.CodeInvalidAttestation)
	inflated := model.Scores{Clarity: 50, Innovation: 17, Inspiration: 17}
	err = h.reg.StoreDecryptedScores(ctx, organizer, id, inflated, token)
	assertCode(t, err, model.CodeInvalidAttestation)
	assert.ErrorIs(t, err, model.ErrInvalidAttestation)

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, "DecryptionRequested", snap.Phase)

	require.NoError(t, h.reg.StoreDecryptedScores(ctx, organizer, id, good, token))
}

func TestConcurrentSubmissionsAreSerialised(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := addr(1000 + i)
			_, err := h.reg.SubmitReview(context.Background(), who, id, h.review(id, who, 1, 2, 3))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := h.reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, n, snap.ReviewCount)
	assert.Equal(t, model.Scores{Clarity: n, Innovation: 2 * n, Inspiration: 3 * n}, h.totals(t, id))
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	h := newHarness(t)
	const n = 25
	ids := make(chan model.SessionID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.reg.CreateSession(context.Background(), organizer, "parallel", speaker, nil)
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[model.SessionID]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.True(t, seen[model.SessionID(i)])
	}
}
