package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mewiskl/zama-Talklet-Review/internal/api/respond"
	"github.com/mewiskl/zama-Talklet-Review/internal/auth"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

type client struct {
	http *resty.Client
}

func newClient(base, caller string) *client {
	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	if caller != "" {
		c.SetHeader(auth.Header, caller)
	}
	return &client{http: c}
}

// do sends body (if any) and decodes a JSON response into out (if any).
func (c *client) do(method, path string, body, out any) error {
	req := c.http.R()
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var e respond.ErrorResponse
		if json.Unmarshal(resp.Body(), &e) == nil && e.Message != "" {
			if e.Kind != "" {
				return fmt.Errorf("%s: %s", e.Kind, e.Message)
			}
			return fmt.Errorf("%s: %s", e.Error, e.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func sessionPath(id model.SessionID, suffix string) string {
	p := "/api/sessions/" + strconv.FormatUint(uint64(id), 10)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func parseID(s string) (model.SessionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return model.SessionID(v), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
