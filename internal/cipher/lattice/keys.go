package lattice

import (
	"encoding"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

const (
	SecretKeyFile = "bgv.sk"
	PublicKeyFile = "bgv.pk"
)

// GenerateKeys returns a fresh key pair for params.
func GenerateKeys(params bgv.Parameters) (*rlwe.SecretKey, *rlwe.PublicKey) {
	return rlwe.NewKeyGenerator(params).GenKeyPairNew()
}

// LoadOrGenerateKeys reads bgv.sk and bgv.pk from dir, creating both when
// neither exists. A directory holding only one of them is an error.
func LoadOrGenerateKeys(params bgv.Parameters, dir string) (*rlwe.SecretKey, *rlwe.PublicKey, error) {
	skPath := filepath.Join(dir, SecretKeyFile)
	pkPath := filepath.Join(dir, PublicKeyFile)

	_, skErr := os.Stat(skPath)
	_, pkErr := os.Stat(pkPath)
	switch {
	case errors.Is(skErr, fs.ErrNotExist) && errors.Is(pkErr, fs.ErrNotExist):
		sk, pk := GenerateKeys(params)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create key dir: %w", err)
		}
		if err := writeKey(skPath, sk, 0o600); err != nil {
			return nil, nil, err
		}
		if err := writeKey(pkPath, pk, 0o644); err != nil {
			return nil, nil, err
		}
		return sk, pk, nil
	case skErr != nil:
		return nil, nil, fmt.Errorf("stat secret key: %w", skErr)
	case pkErr != nil:
		return nil, nil, fmt.Errorf("stat public key: %w", pkErr)
	}

	sk := rlwe.NewSecretKey(params)
	if err := readKey(skPath, sk); err != nil {
		return nil, nil, err
	}
	pk, err := LoadPublicKey(params, pkPath)
	if err != nil {
		return nil, nil, err
	}
	return sk, pk, nil
}

// LoadPublicKey reads a marshalled public key from path.
func LoadPublicKey(params bgv.Parameters, path string) (*rlwe.PublicKey, error) {
	pk := rlwe.NewPublicKey(params)
	if err := readKey(path, pk); err != nil {
		return nil, err
	}
	return pk, nil
}

// DecodePublicKey unmarshals a public key served over the API.
func DecodePublicKey(params bgv.Parameters, data []byte) (*rlwe.PublicKey, error) {
	pk := rlwe.NewPublicKey(params)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return pk, nil
}

func writeKey(path string, key encoding.BinaryMarshaler, perm os.FileMode) error {
	data, err := key.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readKey(path string, key encoding.BinaryUnmarshaler) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := key.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
