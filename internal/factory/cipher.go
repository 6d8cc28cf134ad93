package factory

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher/lattice"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher/mock"
	"github.com/mewiskl/zama-Talklet-Review/internal/config"
)

// Cipher is a configured backend. Decryptor is nil unless the secret key was
// requested.
type Cipher struct {
	Name       string
	Capability cipher.Capability
	Decryptor  cipher.Decryptor
	PublicKey  []byte
}

// NewCipher builds the backend selected by cfg.CipherBackend over blobs.
// withSecret loads (or creates) the decryption key; only the oracle asks
// for it.
func NewCipher(cfg *config.Config, blobs cipher.BlobStore, withSecret bool, log zerolog.Logger) (*Cipher, error) {
	binder, err := cipher.NewInputBinderHex(cfg.InputProofKey)
	if err != nil {
		return nil, err
	}

	switch cfg.CipherBackend {
	case "mock":
		b := mock.New(binder, blobs)
		c := &Cipher{Name: "mock", Capability: b}
		if withSecret {
			c.Decryptor = b
		}
		return c, nil
	case "lattice":
		return newLattice(cfg, binder, blobs, withSecret, log)
	}
	return nil, fmt.Errorf("unsupported CIPHER_BACKEND: %s", cfg.CipherBackend)
}

func newLattice(cfg *config.Config, binder *cipher.InputBinder, blobs cipher.BlobStore, withSecret bool, log zerolog.Logger) (*Cipher, error) {
	params, err := lattice.DefaultParameters()
	if err != nil {
		return nil, fmt.Errorf("bgv parameters: %w", err)
	}

	var opts []lattice.Option
	pk, err := lattice.LoadPublicKey(params, filepath.Join(cfg.KeyDir, lattice.PublicKeyFile))
	switch {
	case withSecret || (errors.Is(err, fs.ErrNotExist) && !cfg.IsProduction()):
		sk, gpk, err := lattice.LoadOrGenerateKeys(params, cfg.KeyDir)
		if err != nil {
			return nil, err
		}
		pk = gpk
		if withSecret {
			opts = append(opts, lattice.WithSecretKey(sk))
		} else {
			log.Warn().Str("key_dir", cfg.KeyDir).Msg("no BGV public key found; generated a development key pair")
		}
	case err != nil:
		return nil, err
	}

	b, err := lattice.New(params, pk, binder, blobs, opts...)
	if err != nil {
		return nil, err
	}
	raw, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	c := &Cipher{Name: "lattice", Capability: b, PublicKey: raw}
	if withSecret {
		c.Decryptor = b
	}
	log.Info().Int("log_n", params.LogN()).Uint64("plaintext_modulus", params.PlaintextModulus()).Bool("secret_key", withSecret).Msg("bgv backend ready")
	return c, nil
}
