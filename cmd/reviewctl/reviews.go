package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/mewiskl/zama-Talklet-Review/internal/api"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

type ratings struct {
	Clarity, Innovation, Inspiration uint16
}

// runSubmit encrypts the three ratings for the server's backend, binds each
// to (session, caller) and posts the review.
func runSubmit(c *client, caller string, binder *cipher.InputBinder, id model.SessionID, r ratings, tags uint8, qa int64, out io.Writer) error {
	who, err := model.ParseAddress(caller)
	if err != nil || who.IsZero() {
		return fmt.Errorf("--caller must be a valid non-zero address")
	}
	var info api.CipherInfo
	if err := c.do(http.MethodGet, "/api/cipher", nil, &info); err != nil {
		return err
	}
	enc, err := newEncryptor(info, binder)
	if err != nil {
		return err
	}
	bind := cipher.Binding{SessionID: id, Submitter: who}
	seal := func(v uint16) (cipher.EncryptedInput, error) {
		ct, err := enc.Encrypt(v)
		if err != nil {
			return cipher.EncryptedInput{}, fmt.Errorf("encrypt: %w", err)
		}
		return binder.Seal(ct, bind), nil
	}

	body := map[string]interface{}{"tags": tags, "qaDuration": qa}
	for name, v := range map[string]uint16{"clarity": r.Clarity, "innovation": r.Innovation, "inspiration": r.Inspiration} {
		in, err := seal(v)
		if err != nil {
			return err
		}
		body[name] = in
	}

	var resp struct {
		Replaced bool `json:"replaced"`
		Revision int  `json:"revision"`
	}
	if err := c.do(http.MethodPost, sessionPath(id, "reviews"), body, &resp); err != nil {
		return err
	}
	verb := "submitted"
	if resp.Replaced {
		verb = "replaced"
	}
	_, err = fmt.Fprintf(out, "review %s for session %d (revision %d)\n", verb, id, resp.Revision)
	return err
}
