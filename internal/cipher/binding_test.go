package cipher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

func TestNewInputBinderKeyLength(t *testing.T) {
	_, err := NewInputBinder(nil)
	assert.Error(t, err)
	_, err = NewInputBinder(make([]byte, 65))
	assert.Error(t, err)
	_, err = NewInputBinderHex("not-hex")
	assert.Error(t, err)

	ib, err := NewInputBinderHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.NotNil(t, ib)
}

func TestVerifyBindsSessionAndSubmitter(t *testing.T) {
	ib, err := NewInputBinder([]byte("k"))
	require.NoError(t, err)

	ct := []byte{0, 0, 0, 7}
	b := Binding{SessionID: 4, Submitter: "0x00000000000000000000000000000000000000a1"}
	in := ib.Seal(ct, b)
	require.NoError(t, ib.Verify(in.Ciphertext, in.Proof, b))

	other := b
	other.SessionID = 5
	err = ib.Verify(in.Ciphertext, in.Proof, other)
	assert.True(t, model.IsCode(err, model.CodeInvalidCiphertext))

	tampered := append([]byte(nil), ct...)
	tampered[3] = 8
	err = ib.Verify(tampered, in.Proof, b)
	assert.True(t, model.IsCode(err, model.CodeInvalidCiphertext))

	err = ib.Verify(nil, in.Proof, b)
	assert.True(t, model.IsCode(err, model.CodeInvalidCiphertext))

	ib2, err := NewInputBinder([]byte("other"))
	require.NoError(t, err)
	err = ib2.Verify(in.Ciphertext, in.Proof, b)
	assert.True(t, model.IsCode(err, model.CodeInvalidCiphertext))
}

func TestMemoryBlobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBlobs()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownHandle)

	data := []byte("ct")
	require.NoError(t, m.Put(ctx, "k", data))
	data[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ct"), got)
}
