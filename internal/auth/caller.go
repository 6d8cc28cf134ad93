// Package auth resolves the caller identity of an HTTP request. The service
// trusts the X-Caller-Address header; a signing gateway in front of it is
// expected to set it.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// Header carries the caller address.
const Header = "X-Caller-Address"

var (
	// ErrMissingCaller is returned when the request carries no caller address.
	ErrMissingCaller = errors.New("caller address required")
	// ErrInvalidCaller is returned when the caller address is malformed or zero.
	ErrInvalidCaller = errors.New("invalid caller address")
)

type ctxKey struct{}

// ExtractCaller reads and canonicalises the caller address from r.
func ExtractCaller(r *http.Request) (model.Address, error) {
	raw := r.Header.Get(Header)
	if raw == "" {
		return "", ErrMissingCaller
	}
	a, err := model.ParseAddress(raw)
	if err != nil || a.IsZero() {
		return "", ErrInvalidCaller
	}
	return a, nil
}

// WithCaller returns ctx carrying a.
func WithCaller(ctx context.Context, a model.Address) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// CallerFrom returns the caller stored by Middleware.
func CallerFrom(ctx context.Context) (model.Address, bool) {
	a, ok := ctx.Value(ctxKey{}).(model.Address)
	return a, ok
}

// Middleware stores a valid caller address in the request context. Requests
// without one pass through anonymously; handlers of mutating routes reject
// them.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, err := ExtractCaller(r); err == nil {
			r = r.WithContext(WithCaller(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}
