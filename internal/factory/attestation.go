package factory

import (
	"crypto/ed25519"
	"errors"
	"io/fs"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/config"
	"github.com/mewiskl/zama-Talklet-Review/internal/oracle"
	"github.com/mewiskl/zama-Talklet-Review/internal/registry"
)

// NewVerifier returns the attestation verifier for the registry, or nil when
// attestations are not required. Outside production a missing oracle key is
// generated so a single-host dev setup works.
func NewVerifier(cfg *config.Config, log zerolog.Logger) (registry.AttestationVerifier, error) {
	if !cfg.RequireAttestation {
		log.Warn().Msg("attestations disabled; decrypted scores are accepted unverified")
		return nil, nil
	}
	pub, err := oracle.LoadVerifyingKey(cfg.OraclePublicKeyPath())
	if errors.Is(err, fs.ErrNotExist) && !cfg.IsProduction() {
		key, gerr := oracle.LoadOrGenerateSigningKey(cfg.OracleKeyPath(), cfg.OraclePublicKeyPath())
		if gerr != nil {
			return nil, gerr
		}
		log.Warn().Str("path", cfg.OracleKeyPath()).Msg("no oracle key found; generated a development signing key")
		return oracle.NewVerifier(key.Public().(ed25519.PublicKey), cfg.OracleIssuer), nil
	}
	if err != nil {
		return nil, err
	}
	return oracle.NewVerifier(pub, cfg.OracleIssuer), nil
}

// NewSigner loads or creates the oracle signing key.
func NewSigner(cfg *config.Config) (*oracle.Signer, error) {
	key, err := oracle.LoadOrGenerateSigningKey(cfg.OracleKeyPath(), cfg.OraclePublicKeyPath())
	if err != nil {
		return nil, err
	}
	return oracle.NewSigner(key, cfg.OracleIssuer, cfg.AttestationTTL), nil
}
