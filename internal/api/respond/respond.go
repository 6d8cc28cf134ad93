// Package respond writes JSON responses and maps registry errors to HTTP
// statuses.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// WriteBadRequest writes a 400 Bad Request response
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 for requests without a caller identity.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// StatusFor maps a registry error code to an HTTP status.
func StatusFor(code model.Code) int {
	switch code {
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeInvalidInput:
		return http.StatusBadRequest
	case model.CodeInvalidCiphertext:
		return http.StatusUnprocessableEntity
	case model.CodeUnauthorized, model.CodeInvalidAttestation:
		return http.StatusForbidden
	case model.CodePhaseError, model.CodeAlreadyReviewed:
		return http.StatusConflict
	case model.CodeNoData:
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

// WriteDomainError writes err with the status of its code. Errors without a
// code are logged and reported as 500 without detail.
func WriteDomainError(w http.ResponseWriter, err error) {
	code := model.CodeOf(err)
	status := StatusFor(code)
	if code == "" {
		log.Error().Stack().Err(err).Msg("internal error")
		WriteError(w, status, "internal error")
		return
	}
	msg := err.Error()
	var e *model.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Kind:    string(code),
		Message: msg,
	})
}
