package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher/lattice"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/store/memory"
)

func TestScenarioA_LatticeBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("lattice keygen in -short mode")
	}
	ctx := context.Background()
	params, err := lattice.DefaultParameters()
	require.NoError(t, err)
	sk, pk := lattice.GenerateKeys(params)
	ib, err := cipher.NewInputBinder([]byte("registry-lattice"))
	require.NoError(t, err)

	st := memory.New()
	backend, err := lattice.New(params, pk, ib, st.Blobs(), lattice.WithSecretKey(sk))
	require.NoError(t, err)
	reg, err := New(ctx, Options{Store: st, Cipher: backend, Log: zerolog.Nop()})
	require.NoError(t, err)

	id, err := reg.CreateSession(ctx, organizer, "Lattices in practice", speaker, []model.Address{x, y})
	require.NoError(t, err)

	seal := func(who model.Address, c, i, s uint16) ReviewSubmission {
		bind := cipher.Binding{SessionID: id, Submitter: who}
		var sub ReviewSubmission
		for f, v := range []uint16{c, i, s} {
			ct, err := backend.Encrypt(v)
			require.NoError(t, err)
			in := ib.Seal(ct, bind)
			switch model.Field(f) {
			case model.FieldClarity:
				sub.Clarity = in
			case model.FieldInnovation:
				sub.Innovation = in
			default:
				sub.Inspiration = in
			}
		}
		return sub
	}

	_, err = reg.SubmitReview(ctx, x, id, seal(x, 8, 9, 7))
	require.NoError(t, err)
	_, err = reg.SubmitReview(ctx, y, id, seal(y, 9, 8, 10))
	require.NoError(t, err)

	// replacing x's review subtracts the old ciphertexts
	res, err := reg.SubmitReview(ctx, x, id, seal(x, 1, 2, 3))
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	_, err = reg.SubmitReview(ctx, x, id, seal(x, 8, 9, 7))
	require.NoError(t, err)

	require.NoError(t, reg.CloseSession(ctx, organizer, id))
	require.NoError(t, reg.RequestDecryption(ctx, organizer, id, grant))

	handles, err := reg.SessionHandles(id)
	require.NoError(t, err)
	for f, h := range handles {
		v, err := backend.Decrypt(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint32(17), v, "field %s", model.Field(f))
	}
	snap, err := reg.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ReviewCount)
}

func TestLatticeRejectsCopiedCiphertext(t *testing.T) {
	if testing.Short() {
		t.Skip("lattice keygen in -short mode")
	}
	ctx := context.Background()
	params, err := lattice.DefaultParameters()
	require.NoError(t, err)
	sk, pk := lattice.GenerateKeys(params)
	ib, err := cipher.NewInputBinder([]byte("registry-lattice"))
	require.NoError(t, err)

	st := memory.New()
	backend, err := lattice.New(params, pk, ib, st.Blobs(), lattice.WithSecretKey(sk))
	require.NoError(t, err)
	reg, err := New(ctx, Options{Store: st, Cipher: backend, Log: zerolog.Nop()})
	require.NoError(t, err)
	id, err := reg.CreateSession(ctx, organizer, "Copy detection", speaker, []model.Address{x, y})
	require.NoError(t, err)

	var cts [model.NumFields][]byte
	for f, v := range []uint16{8, 9, 7} {
		cts[f], err = backend.Encrypt(v)
		require.NoError(t, err)
	}
	sealFor := func(who model.Address) ReviewSubmission {
		bind := cipher.Binding{SessionID: id, Submitter: who}
		return ReviewSubmission{
			Clarity:     ib.Seal(cts[model.FieldClarity], bind),
			Innovation:  ib.Seal(cts[model.FieldInnovation], bind),
			Inspiration: ib.Seal(cts[model.FieldInspiration], bind),
		}
	}

	_, err = reg.SubmitReview(ctx, x, id, sealFor(x))
	require.NoError(t, err)
	_, err = reg.SubmitReview(ctx, y, id, sealFor(y))
	assert.True(t, model.IsCode(err, model.CodeInvalidCiphertext), "error: %v", err)
	assert.False(t, reg.HasReviewed(id, y))

	// two independent encryptions of the same rating never collide
	fresh, err := backend.Encrypt(8)
	require.NoError(t, err)
	assert.NotEqual(t, cipher.Digest(cts[model.FieldClarity]), cipher.Digest(fresh))
}
