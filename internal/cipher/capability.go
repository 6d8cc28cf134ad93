// Package cipher defines the capability boundary between the session registry
// and whatever homomorphic-encryption backend holds the ciphertexts.
//
// The registry never sees plaintext. It stores Handles and asks the backend to
// ingest (proof-checked), combine and zero them. Backends live in subpackages:
// mock (plaintext table, tests and dev) and lattice (BGV over lattigo).
package cipher

import (
	"context"
	"errors"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// ErrUnknownHandle is returned when a handle does not resolve to a ciphertext.
var ErrUnknownHandle = errors.New("unknown ciphertext handle")

// EncryptedInput is a client-produced ciphertext plus its proof of
// well-formedness.
type EncryptedInput struct {
	Ciphertext []byte `json:"ciphertext"`
	Proof      []byte `json:"proof"`
}

// Binding is the context an input proof must be bound to.
type Binding struct {
	SessionID model.SessionID
	Submitter model.Address
}

// Capability is the narrow interface the registry consumes.
type Capability interface {
	// ValidateAndIngest checks the proof against (ciphertext, binding) and
	// returns a handle for the ingested ciphertext. Failures are
	// model.CodeInvalidCiphertext errors.
	ValidateAndIngest(ctx context.Context, in EncryptedInput, b Binding) (model.Handle, error)
	// Combine returns a handle to the homomorphic sum of a and b.
	Combine(ctx context.Context, a, b model.Handle) (model.Handle, error)
	// Zero returns a handle to a fresh encryption of zero.
	Zero(ctx context.Context) (model.Handle, error)
}

// Subtractor is implemented by backends that can remove a known contribution
// from an accumulator. Registries use it to support review replacement.
type Subtractor interface {
	Subtract(ctx context.Context, a, b model.Handle) (model.Handle, error)
}

// Randomized is implemented by backends whose encryptions are probabilistic.
// Two independently produced inputs never share a handle there, so a handle
// seen twice is a copied ciphertext.
type Randomized interface {
	RandomizedInputs() bool
}

// Decryptor turns a handle into plaintext. Only the decryption oracle holds one.
type Decryptor interface {
	Decrypt(ctx context.Context, h model.Handle) (uint32, error)
}

// Encryptor produces ciphertext bytes for a rating on the client side.
type Encryptor interface {
	Encrypt(value uint16) ([]byte, error)
}

// BlobStore persists ciphertext bytes by handle.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// InvalidCiphertext builds the error returned for rejected inputs.
func InvalidCiphertext(msg string, err error) error {
	return model.WrapError(model.CodeInvalidCiphertext, msg, err)
}
