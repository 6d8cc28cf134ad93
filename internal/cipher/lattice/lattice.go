// Package lattice is the BGV cipher backend. Each rating is encrypted in slot 0
// of a degree-1 ciphertext under the service public key; accumulators are
// homomorphic sums computed with a bgv.Evaluator.
package lattice

import (
	"context"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

const handlePrefix = "bgv:"

// PlaintextModulus bounds every per-field total. Totals wrap modulo this value.
const PlaintextModulus = 0x10001

// DefaultParameters returns the BGV parameter set used by the service.
func DefaultParameters() (bgv.Parameters, error) {
	return bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             12,
		LogQ:             []int{56, 55},
		LogP:             []int{55},
		PlaintextModulus: PlaintextModulus,
	})
}

// Backend implements cipher.Capability and cipher.Subtractor. With
// WithSecretKey it also implements cipher.Decryptor.
type Backend struct {
	params bgv.Parameters
	binder *cipher.InputBinder
	blobs  cipher.BlobStore

	enc  *bgv.Encoder
	encr *rlwe.Encryptor
	decr *rlwe.Decryptor

	mu   sync.Mutex // guards eval, enc and decr
	eval *bgv.Evaluator
}

// Option configures a Backend.
type Option func(*Backend)

// WithSecretKey enables Decrypt. Only the decryption oracle sets it.
func WithSecretKey(sk *rlwe.SecretKey) Option {
	return func(b *Backend) {
		b.decr = rlwe.NewDecryptor(b.params, sk)
	}
}

// New builds a backend. A nil blobs keeps ciphertexts in memory.
func New(params bgv.Parameters, pk *rlwe.PublicKey, binder *cipher.InputBinder, blobs cipher.BlobStore, opts ...Option) (*Backend, error) {
	if pk == nil {
		return nil, fmt.Errorf("lattice: public key required")
	}
	if blobs == nil {
		blobs = cipher.NewMemoryBlobs()
	}
	b := &Backend{
		params: params,
		binder: binder,
		blobs:  blobs,
		enc:    bgv.NewEncoder(params),
		encr:   rlwe.NewEncryptor(params, pk),
		eval:   bgv.NewEvaluator(params, nil),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// RandomizedInputs implements cipher.Randomized: public-key BGV encryption
// draws fresh noise for every ciphertext.
func (b *Backend) RandomizedInputs() bool { return true }

// Params returns the backend's parameter set.
func (b *Backend) Params() bgv.Parameters { return b.params }

func (b *Backend) ValidateAndIngest(ctx context.Context, in cipher.EncryptedInput, bind cipher.Binding) (model.Handle, error) {
	if err := b.binder.Verify(in.Ciphertext, in.Proof, bind); err != nil {
		return "", err
	}
	ct, err := b.unmarshal(in.Ciphertext)
	if err != nil {
		return "", cipher.InvalidCiphertext("malformed ciphertext", err)
	}
	if ct.Degree() != 1 || ct.Level() != b.params.MaxLevel() {
		return "", cipher.InvalidCiphertext("unexpected ciphertext shape", nil)
	}
	return b.store(ctx, ct)
}

func (b *Backend) Combine(ctx context.Context, x, y model.Handle) (model.Handle, error) {
	return b.binary(ctx, x, y, false)
}

func (b *Backend) Subtract(ctx context.Context, x, y model.Handle) (model.Handle, error) {
	return b.binary(ctx, x, y, true)
}

// Zero returns a fresh public-key encryption of zero.
func (b *Backend) Zero(ctx context.Context) (model.Handle, error) {
	ct, err := b.encryptSlot(0)
	if err != nil {
		return "", err
	}
	return b.store(ctx, ct)
}

// Decrypt returns slot 0 of the plaintext behind h.
func (b *Backend) Decrypt(ctx context.Context, h model.Handle) (uint32, error) {
	if b.decr == nil {
		return 0, fmt.Errorf("lattice: backend has no secret key")
	}
	ct, err := b.load(ctx, h)
	if err != nil {
		return 0, err
	}
	pt := bgv.NewPlaintext(b.params, ct.Level())
	values := make([]uint64, b.params.MaxSlots())

	b.mu.Lock()
	b.decr.Decrypt(ct, pt)
	err = b.enc.Decode(pt, values)
	b.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("lattice: decode: %w", err)
	}
	return uint32(values[0]), nil
}

// Encrypt implements cipher.Encryptor.
func (b *Backend) Encrypt(value uint16) ([]byte, error) {
	ct, err := b.encryptSlot(uint64(value))
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

func (b *Backend) encryptSlot(v uint64) (*rlwe.Ciphertext, error) {
	values := make([]uint64, b.params.MaxSlots())
	values[0] = v
	pt := bgv.NewPlaintext(b.params, b.params.MaxLevel())

	b.mu.Lock()
	err := b.enc.Encode(values, pt)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("lattice: encode: %w", err)
	}
	ct := rlwe.NewCiphertext(b.params, 1, b.params.MaxLevel())
	if err := b.encr.Encrypt(pt, ct); err != nil {
		return nil, fmt.Errorf("lattice: encrypt: %w", err)
	}
	return ct, nil
}

func (b *Backend) binary(ctx context.Context, x, y model.Handle, sub bool) (model.Handle, error) {
	cx, err := b.load(ctx, x)
	if err != nil {
		return "", err
	}
	cy, err := b.load(ctx, y)
	if err != nil {
		return "", err
	}
	out := rlwe.NewCiphertext(b.params, 1, b.params.MaxLevel())

	if err := b.evaluate(cx, cy, out, sub); err != nil {
		return "", fmt.Errorf("lattice: evaluate: %w", err)
	}
	return b.store(ctx, out)
}

func (b *Backend) evaluate(x, y, out *rlwe.Ciphertext, sub bool) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if sub {
		return b.eval.Sub(x, y, out)
	}
	return b.eval.Add(x, y, out)
}

func (b *Backend) store(ctx context.Context, ct *rlwe.Ciphertext) (model.Handle, error) {
	data, err := ct.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("lattice: marshal: %w", err)
	}
	key := handlePrefix + cipher.Digest(data)
	if err := b.blobs.Put(ctx, key, data); err != nil {
		return "", err
	}
	return model.Handle(key), nil
}

func (b *Backend) load(ctx context.Context, h model.Handle) (*rlwe.Ciphertext, error) {
	data, err := b.blobs.Get(ctx, string(h))
	if err != nil {
		return nil, err
	}
	ct, err := b.unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("lattice: load %s: %w", h, err)
	}
	return ct, nil
}

func (b *Backend) unmarshal(data []byte) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unmarshal ciphertext: %v", r)
		}
	}()
	ct = rlwe.NewCiphertext(b.params, 1, b.params.MaxLevel())
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return ct, nil
}
