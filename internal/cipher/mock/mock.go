// Package mock is a plaintext-backed cipher backend for tests and dev mode.
// Ciphertexts are 4-byte big-endian values; handles are content addressed.
// It offers no confidentiality whatsoever.
package mock

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

const handlePrefix = "mock:"

// Backend implements cipher.Capability, cipher.Subtractor and cipher.Decryptor.
type Backend struct {
	binder *cipher.InputBinder
	blobs  cipher.BlobStore

	mu         sync.Mutex
	combineErr error
	combines   int
}

// New returns a mock backend. A nil blobs uses an in-memory store.
func New(binder *cipher.InputBinder, blobs cipher.BlobStore) *Backend {
	if blobs == nil {
		blobs = cipher.NewMemoryBlobs()
	}
	return &Backend{binder: binder, blobs: blobs}
}

// Encode returns the mock ciphertext for value.
func Encode(value uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, value)
	return b
}

// Encrypt implements cipher.Encryptor.
func (b *Backend) Encrypt(value uint16) ([]byte, error) { return Encode(uint32(value)), nil }

// FailCombine makes every subsequent Combine/Subtract return err (nil clears).
func (b *Backend) FailCombine(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.combineErr = err
}

// Combines returns how many successful Combine calls were made.
func (b *Backend) Combines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.combines
}

func (b *Backend) ValidateAndIngest(ctx context.Context, in cipher.EncryptedInput, bind cipher.Binding) (model.Handle, error) {
	if err := b.binder.Verify(in.Ciphertext, in.Proof, bind); err != nil {
		return "", err
	}
	if len(in.Ciphertext) != 4 {
		return "", cipher.InvalidCiphertext(fmt.Sprintf("mock ciphertext must be 4 bytes, got %d", len(in.Ciphertext)), nil)
	}
	if binary.BigEndian.Uint32(in.Ciphertext) > 0xFFFF {
		return "", cipher.InvalidCiphertext("value out of 16-bit range", nil)
	}
	return b.put(ctx, binary.BigEndian.Uint32(in.Ciphertext))
}

func (b *Backend) Combine(ctx context.Context, x, y model.Handle) (model.Handle, error) {
	return b.arith(ctx, x, y, func(a, c uint32) uint32 { return a + c })
}

func (b *Backend) Subtract(ctx context.Context, x, y model.Handle) (model.Handle, error) {
	return b.arith(ctx, x, y, func(a, c uint32) uint32 { return a - c })
}

func (b *Backend) Zero(ctx context.Context) (model.Handle, error) {
	return b.put(ctx, 0)
}

func (b *Backend) Decrypt(ctx context.Context, h model.Handle) (uint32, error) {
	return b.value(ctx, h)
}

func (b *Backend) arith(ctx context.Context, x, y model.Handle, op func(a, c uint32) uint32) (model.Handle, error) {
	b.mu.Lock()
	err := b.combineErr
	b.mu.Unlock()
	if err != nil {
		return "", err
	}
	vx, err := b.value(ctx, x)
	if err != nil {
		return "", err
	}
	vy, err := b.value(ctx, y)
	if err != nil {
		return "", err
	}
	h, err := b.put(ctx, op(vx, vy))
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.combines++
	b.mu.Unlock()
	return h, nil
}

func (b *Backend) put(ctx context.Context, v uint32) (model.Handle, error) {
	data := Encode(v)
	key := handlePrefix + cipher.Digest(data)
	if err := b.blobs.Put(ctx, key, data); err != nil {
		return "", err
	}
	return model.Handle(key), nil
}

func (b *Backend) value(ctx context.Context, h model.Handle) (uint32, error) {
	data, err := b.blobs.Get(ctx, string(h))
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("corrupt mock ciphertext %s", h)
	}
	return binary.BigEndian.Uint32(data), nil
}

// AddOnly hides Subtract so the registry treats the backend as append-only.
type AddOnly struct{ b *Backend }

// NewAddOnly wraps b without its Subtractor capability.
func NewAddOnly(b *Backend) AddOnly { return AddOnly{b: b} }

func (a AddOnly) ValidateAndIngest(ctx context.Context, in cipher.EncryptedInput, bind cipher.Binding) (model.Handle, error) {
	return a.b.ValidateAndIngest(ctx, in, bind)
}
func (a AddOnly) Combine(ctx context.Context, x, y model.Handle) (model.Handle, error) {
	return a.b.Combine(ctx, x, y)
}
func (a AddOnly) Zero(ctx context.Context) (model.Handle, error) { return a.b.Zero(ctx) }
func (a AddOnly) Decrypt(ctx context.Context, h model.Handle) (uint32, error) {
	return a.b.Decrypt(ctx, h)
}
