// Package storetest is a compliance suite every store.Store implementation runs.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

const (
	organizer model.Address = "0x00000000000000000000000000000000000000aa"
	speaker   model.Address = "0x00000000000000000000000000000000000000bb"
	attendee  model.Address = "0x00000000000000000000000000000000000000cc"
)

// Run exercises the suite against a clean store returned by makeStore.
// Session ids are derived from the wall clock so a shared database can be
// reused across runs.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()
	base := model.SessionID(time.Now().UnixNano() & 0x3fffffffffff)

	t.Run("SessionCommitAndLoad", func(t *testing.T) { sessionCommitAndLoad(t, makeStore(t), base) })
	t.Run("FactOutbox", func(t *testing.T) { factOutbox(t, makeStore(t), base+10) })
	t.Run("Blobs", func(t *testing.T) { blobs(t, makeStore(t)) })
	t.Run("Attestations", func(t *testing.T) { attestations(t, makeStore(t), base+20) })
}

func sessionCommitAndLoad(t *testing.T, s store.Store, id model.SessionID) {
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 123).UTC()

	rec := store.SessionRecord{
		Session: model.Session{
			ID:          id,
			Title:       "Lattices for the working engineer",
			Speaker:     speaker,
			Organizer:   organizer,
			CreatedAt:   created,
			Phase:       model.PhaseActive,
			Accumulator: model.Handles{"z0", "z1", "z2"},
		},
		Attendees: []model.Address{attendee, speaker},
	}
	fact, err := events.NewFact(events.KindSessionCreated, id, events.SessionCreatedPayload{Title: rec.Session.Title}, created)
	require.NoError(t, err)

	committed, err := s.Sessions().Commit(ctx, rec, []events.Fact{fact})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.NotZero(t, committed[0].ID)

	closed := created.Add(time.Hour)
	rec.Session.Phase = model.PhaseClosed
	rec.Session.ClosedAt = &closed
	rec.Session.ReviewCount = 1
	rec.Session.Accumulator = model.Handles{"a0", "a1", "a2"}
	rec.Reviews = []model.ReviewRecord{{
		Reviewer:    attendee,
		Tags:        model.TagTechnical | model.TagTheoretical,
		QADuration:  90,
		Handles:     model.Handles{"r0", "r1", "r2"},
		Revision:    1,
		SubmittedAt: created.Add(time.Minute),
	}}
	_, err = s.Sessions().Commit(ctx, rec, nil)
	require.NoError(t, err)

	all, err := s.Sessions().LoadAll(ctx)
	require.NoError(t, err)
	var got *store.SessionRecord
	for i := range all {
		if all[i].Session.ID == id {
			got = &all[i]
		}
	}
	require.NotNil(t, got, "session %d not loaded", id)

	assert.Equal(t, rec.Session.Title, got.Session.Title)
	assert.Equal(t, model.PhaseClosed, got.Session.Phase)
	assert.Equal(t, 1, got.Session.ReviewCount)
	assert.Equal(t, rec.Session.Accumulator, got.Session.Accumulator)
	assert.True(t, created.Equal(got.Session.CreatedAt))
	require.NotNil(t, got.Session.ClosedAt)
	assert.True(t, closed.Equal(*got.Session.ClosedAt))
	assert.Nil(t, got.Session.DecryptedAt)
	assert.False(t, got.Public)
	assert.Equal(t, []model.Address{attendee, speaker}, got.Attendees)
	require.Len(t, got.Reviews, 1)
	assert.Equal(t, rec.Reviews[0].Handles, got.Reviews[0].Handles)
	assert.Equal(t, rec.Reviews[0].Tags, got.Reviews[0].Tags)
	assert.Equal(t, 1, got.Reviews[0].Revision)
}

func factOutbox(t *testing.T, s store.Store, id model.SessionID) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	rec := store.SessionRecord{Session: model.Session{ID: id, Title: "t", Speaker: speaker, Organizer: organizer, CreatedAt: now}, Public: true}
	req, err := events.NewFact(events.KindDecryptionRequested, id, events.DecryptionRequestedPayload{Organizer: organizer}, now)
	require.NoError(t, err)
	closedFact, err := events.NewFact(events.KindSessionClosed, id, nil, now)
	require.NoError(t, err)
	committed, err := s.Sessions().Commit(ctx, rec, []events.Fact{closedFact, req})
	require.NoError(t, err)
	require.Len(t, committed, 2)
	assert.Less(t, committed[0].ID, committed[1].ID)
	reqID := committed[1].ID

	pending := pendingFor(t, s, id, now)
	require.Len(t, pending, 1)
	assert.Equal(t, reqID, pending[0].ID)
	var p events.DecryptionRequestedPayload
	require.NoError(t, pending[0].Decode(&p))
	assert.Equal(t, organizer, p.Organizer)

	require.NoError(t, s.Facts().MarkFailed(ctx, reqID, now.Add(time.Minute), "not yet"))
	assert.Empty(t, pendingFor(t, s, id, now))
	retry := pendingFor(t, s, id, now.Add(time.Minute))
	require.Len(t, retry, 1)
	assert.Equal(t, 1, retry[0].Attempts)
	assert.Equal(t, "not yet", retry[0].LastError)

	require.NoError(t, s.Facts().MarkDone(ctx, reqID))
	assert.Empty(t, pendingFor(t, s, id, now.Add(time.Hour)))

	log, err := s.Facts().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, events.KindSessionClosed, log[0].Kind)
	assert.Equal(t, store.FactDone, log[1].Status)

	require.NoError(t, s.Facts().MarkRejected(ctx, log[0].ID, "no consumer"))
	log, err = s.Facts().List(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.FactRejected, log[0].Status)
}

func pendingFor(t *testing.T, s store.Store, id model.SessionID, now time.Time) []store.FactRow {
	t.Helper()
	rows, err := s.Facts().Pending(context.Background(), events.KindDecryptionRequested, now, 0)
	require.NoError(t, err)
	var out []store.FactRow
	for _, r := range rows {
		if r.SessionID == id {
			out = append(out, r)
		}
	}
	return out
}

func blobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := "test:" + cipher.Digest([]byte(time.Now().String()))

	_, err := s.Blobs().Get(ctx, key)
	assert.ErrorIs(t, err, cipher.ErrUnknownHandle)

	require.NoError(t, s.Blobs().Put(ctx, key, []byte{1, 2, 3}))
	require.NoError(t, s.Blobs().Put(ctx, key, []byte{1, 2, 3}))
	got, err := s.Blobs().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func attestations(t *testing.T, s store.Store, id model.SessionID) {
	ctx := context.Background()
	_, err := s.Attestations().Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	a := store.Attestation{SessionID: id, Token: "tok-1", Scores: model.Scores{Clarity: 17, Innovation: 17, Inspiration: 17}, IssuedAt: time.Unix(5, 0).UTC()}
	require.NoError(t, s.Attestations().Put(ctx, a))
	a.Token = "tok-2"
	require.NoError(t, s.Attestations().Put(ctx, a))

	got, err := s.Attestations().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.Token)
	assert.Equal(t, a.Scores, got.Scores)
	assert.True(t, a.IssuedAt.Equal(got.IssuedAt))
}
