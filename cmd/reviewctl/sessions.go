package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

func runCreate(c *client, title, speaker string, attendees []string, out io.Writer) error {
	if title == "" || speaker == "" {
		return fmt.Errorf("--title and --speaker required")
	}
	body := map[string]interface{}{"title": title, "speaker": speaker, "attendees": attendees}
	var resp struct {
		ID model.SessionID `json:"id"`
	}
	if err := c.do(http.MethodPost, "/api/sessions", body, &resp); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d\n", resp.ID)
	return err
}

func runAuthorize(c *client, id model.SessionID, addrs []string, out io.Writer) error {
	if len(addrs) == 0 {
		return fmt.Errorf("at least one address required")
	}
	if err := c.do(http.MethodPost, sessionPath(id, "attendees"), map[string]interface{}{"addresses": addrs}, nil); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "authorized %d attendee(s) for session %d\n", len(addrs), id)
	return err
}

func runClose(c *client, id model.SessionID, out io.Writer) error {
	if err := c.do(http.MethodPost, sessionPath(id, "close"), nil, nil); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "session %d closed\n", id)
	return err
}

// runShow GETs path and pretty-prints the JSON body.
func runShow(c *client, path string, out io.Writer) error {
	var v interface{}
	if err := c.do(http.MethodGet, path, nil, &v); err != nil {
		return err
	}
	return printJSON(out, v)
}
