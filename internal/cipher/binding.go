package cipher

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const proofDomain = "talklet-review/input-proof/v1"

// Digest is the content address of a ciphertext.
func Digest(ciphertext []byte) string {
	sum := blake2b.Sum256(ciphertext)
	return hex.EncodeToString(sum[:])
}

// InputBinder issues and checks input proofs. A proof is a keyed blake2b MAC
// over the ciphertext digest, the session id and the submitter, so a proof
// lifted from one (session, submitter) pair fails for any other.
type InputBinder struct {
	key []byte
}

// NewInputBinder returns a binder keyed with key (1..64 bytes).
func NewInputBinder(key []byte) (*InputBinder, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("input proof key must be 1-%d bytes, got %d", blake2b.Size, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &InputBinder{key: k}, nil
}

// NewInputBinderHex decodes a hex key.
func NewInputBinderHex(keyHex string) (*InputBinder, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode input proof key: %w", err)
	}
	return NewInputBinder(key)
}

// Prove returns the proof binding ciphertext to b.
func (ib *InputBinder) Prove(ciphertext []byte, b Binding) []byte {
	h, err := blake2b.New256(ib.key)
	if err != nil {
		// key length is checked in NewInputBinder
		panic(err)
	}
	var sid [8]byte
	binary.BigEndian.PutUint64(sid[:], uint64(b.SessionID))
	digest := blake2b.Sum256(ciphertext)

	h.Write([]byte(proofDomain))
	h.Write(sid[:])
	h.Write([]byte(b.Submitter))
	h.Write(digest[:])
	return h.Sum(nil)
}

// Verify checks proof against ciphertext and b.
func (ib *InputBinder) Verify(ciphertext, proof []byte, b Binding) error {
	if len(ciphertext) == 0 {
		return InvalidCiphertext("empty ciphertext", nil)
	}
	want := ib.Prove(ciphertext, b)
	if subtle.ConstantTimeCompare(want, proof) != 1 {
		return InvalidCiphertext("input proof rejected", errors.New("proof does not match session and submitter"))
	}
	return nil
}

// Seal is a client helper returning ciphertext with its proof attached.
func (ib *InputBinder) Seal(ciphertext []byte, b Binding) EncryptedInput {
	return EncryptedInput{Ciphertext: ciphertext, Proof: ib.Prove(ciphertext, b)}
}
