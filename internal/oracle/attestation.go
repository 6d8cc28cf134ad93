// Package oracle is the off-line decryption side of the service. It holds the
// cipher secret key, drains decryption requests from the fact outbox and
// issues signed attestations the registry verifies before it accepts
// plaintext totals.
package oracle

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

var (
	ErrSessionMismatch = errors.New("attestation covers a different session")
	ErrHandleMismatch  = errors.New("attestation covers different ciphertexts")
	ErrScoreMismatch   = errors.New("attestation covers different scores")
)

// Claims is the signed body of an attestation.
type Claims struct {
	SessionID model.SessionID `json:"sid"`
	Handles   model.Handles   `json:"handles"`
	Scores    model.Scores    `json:"scores"`
	jwt.RegisteredClaims
}

// Signer issues EdDSA attestations.
type Signer struct {
	key    ed25519.PrivateKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(key ed25519.PrivateKey, issuer string, ttl time.Duration) *Signer {
	return &Signer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Public returns the verifying half of the signing key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign attests that handles of session id decrypt to scores.
func (s *Signer) Sign(id model.SessionID, handles model.Handles, scores model.Scores) (string, error) {
	now := s.now()
	claims := Claims{
		SessionID: id,
		Handles:   handles,
		Scores:    scores,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatUint(uint64(id), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign attestation: %w", err)
	}
	return token, nil
}

// Verifier checks attestations issued by a Signer. It implements
// registry.AttestationVerifier.
type Verifier struct {
	key    ed25519.PublicKey
	issuer string
	now    func() time.Time
}

func NewVerifier(key ed25519.PublicKey, issuer string) *Verifier {
	return &Verifier{key: key, issuer: issuer, now: time.Now}
}

// Parse validates the signature, issuer and expiry of token.
func (v *Verifier) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse attestation: %w", err)
	}
	return claims, nil
}

func (v *Verifier) VerifyAttestation(token string, id model.SessionID, handles model.Handles, scores model.Scores) error {
	c, err := v.Parse(token)
	if err != nil {
		return err
	}
	switch {
	case c.SessionID != id:
		return ErrSessionMismatch
	case c.Handles != handles:
		return ErrHandleMismatch
	case c.Scores != scores:
		return ErrScoreMismatch
	}
	return nil
}
