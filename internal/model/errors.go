package model

import (
	"errors"
	"fmt"
)

// Code classifies registry failures.
type Code string

const (
	CodeNotFound           Code = "NotFound"
	CodeInvalidInput       Code = "InvalidInput"
	CodeUnauthorized       Code = "Unauthorized"
	CodePhaseError         Code = "PhaseError"
	CodeNoData             Code = "NoData"
	CodeInvalidCiphertext  Code = "InvalidCiphertext"
	CodeAlreadyReviewed    Code = "AlreadyReviewed"
	CodeInvalidAttestation Code = "InvalidAttestation"
)

// Sentinels for errors.Is matching against any Error of the same code.
var (
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrPhase              = &Error{Code: CodePhaseError}
	ErrNoData             = &Error{Code: CodeNoData}
	ErrInvalidCiphertext  = &Error{Code: CodeInvalidCiphertext}
	ErrAlreadyReviewed    = &Error{Code: CodeAlreadyReviewed}
	ErrInvalidAttestation = &Error{Code: CodeInvalidAttestation}
)

// Error is a structured registry error: a code plus a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError constructs an Error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError constructs an Error carrying an underlying cause.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so callers can write errors.Is(err, model.ErrPhase).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode checks if err carries the given code (including wrapped errors).
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// SessionNotFound is returned for an unknown session id.
func SessionNotFound(id SessionID) error {
	return NewError(CodeNotFound, fmt.Sprintf("session %d not found", id))
}
