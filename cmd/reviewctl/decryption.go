package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mewiskl/zama-Talklet-Review/internal/api"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// runGrant requests (POST) or renews (PUT) the decryption grant.
func runGrant(c *client, method string, id model.SessionID, start time.Time, days int, out io.Writer) error {
	if days <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	g := model.DecryptionGrant{StartTimestamp: start.Unix(), DurationDays: days}
	if err := c.do(method, sessionPath(id, "decryption"), g, nil); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "decryption grant for session %d: %s for %d day(s)\n", id, start.UTC().Format(time.RFC3339), days)
	return err
}

// runCommitScores fetches the oracle attestation and commits its scores.
func runCommitScores(c *client, id model.SessionID, out io.Writer) error {
	var att api.AttestationResponse
	if err := c.do(http.MethodGet, sessionPath(id, "attestation"), nil, &att); err != nil {
		return err
	}
	body := map[string]interface{}{"scores": att.Scores, "attestation": att.Token}
	if err := c.do(http.MethodPost, sessionPath(id, "scores"), body, nil); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "session %d scores committed: clarity=%d innovation=%d inspiration=%d\n",
		id, att.Scores.Clarity, att.Scores.Innovation, att.Scores.Inspiration)
	return err
}
