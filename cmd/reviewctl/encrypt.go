package main

import (
	"fmt"

	"github.com/mewiskl/zama-Talklet-Review/internal/api"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher/lattice"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher/mock"
)

// newEncryptor builds a client-side encryptor for the server's backend.
func newEncryptor(info api.CipherInfo, binder *cipher.InputBinder) (cipher.Encryptor, error) {
	switch info.Backend {
	case "mock":
		return mock.New(binder, nil), nil
	case "lattice":
		params, err := lattice.DefaultParameters()
		if err != nil {
			return nil, err
		}
		pk, err := lattice.DecodePublicKey(params, info.PublicKey)
		if err != nil {
			return nil, err
		}
		b, err := lattice.New(params, pk, binder, nil)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported cipher backend %q", info.Backend)
}
