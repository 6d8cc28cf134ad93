package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/config"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

func TestNewStoreDrivers(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewForTesting()

	st, err := NewStore(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg.DBDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "talklet.db")
	st, err = NewStore(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	recs, err := st.Sessions().LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
	require.NoError(t, st.Close())

	cfg.DBDriver = "postgres"
	cfg.PostgresDSN = ""
	_, err = NewStore(ctx, cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.DBDriver = "dynamo"
	_, err = NewStore(ctx, cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewCipherMock(t *testing.T) {
	cfg := config.NewForTesting()
	c, err := NewCipher(cfg, cipher.NewMemoryBlobs(), false, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name)
	assert.Nil(t, c.Decryptor)
	_, ok := c.Capability.(cipher.Subtractor)
	assert.True(t, ok)

	c, err = NewCipher(cfg, cipher.NewMemoryBlobs(), true, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, c.Decryptor)

	cfg.InputProofKey = "zz"
	_, err = NewCipher(cfg, nil, false, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewCipherLatticeSharesKeysBetweenServiceAndOracle(t *testing.T) {
	if testing.Short() {
		t.Skip("lattice keygen in -short mode")
	}
	ctx := context.Background()
	cfg := config.NewForTesting()
	cfg.CipherBackend = "lattice"
	cfg.KeyDir = t.TempDir()
	blobs := cipher.NewMemoryBlobs()

	oracleSide, err := NewCipher(cfg, blobs, true, zerolog.Nop())
	require.NoError(t, err)
	service, err := NewCipher(cfg, blobs, false, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, service.Decryptor)
	assert.Equal(t, oracleSide.PublicKey, service.PublicKey)

	enc, ok := service.Capability.(cipher.Encryptor)
	require.True(t, ok)
	ct, err := enc.Encrypt(42)
	require.NoError(t, err)

	ib, err := cipher.NewInputBinderHex(cfg.InputProofKey)
	require.NoError(t, err)
	bind := cipher.Binding{SessionID: 1, Submitter: model.Address("0x00000000000000000000000000000000000000a1")}
	h, err := service.Capability.ValidateAndIngest(ctx, ib.Seal(ct, bind), bind)
	require.NoError(t, err)

	v, err := oracleSide.Decryptor.Decrypt(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}

func TestAttestationKeys(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.KeyDir = t.TempDir()

	cfg.RequireAttestation = false
	v, err := NewVerifier(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.RequireAttestation = true
	v, err = NewVerifier(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, v)

	s, err := NewSigner(cfg)
	require.NoError(t, err)
	handles := model.Handles{"a", "b", "c"}
	tok, err := s.Sign(3, handles, model.Scores{Clarity: 1})
	require.NoError(t, err)
	assert.NoError(t, v.VerifyAttestation(tok, 3, handles, model.Scores{Clarity: 1}))

	cfg.Environment = config.EnvProduction
	cfg.KeyDir = t.TempDir()
	_, err = NewVerifier(cfg, zerolog.Nop())
	assert.Error(t, err)
}
