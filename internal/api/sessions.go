package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mewiskl/zama-Talklet-Review/internal/api/respond"
	"github.com/mewiskl/zama-Talklet-Review/internal/auth"
	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/model"
	"github.com/mewiskl/zama-Talklet-Review/internal/oracle"
	"github.com/mewiskl/zama-Talklet-Review/internal/registry"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// SessionHandler is the HTTP transport over the registry.
type SessionHandler struct {
	reg     *registry.Registry
	st      store.Store
	maxBody int64
}

func NewSessionHandler(reg *registry.Registry, st store.Store, maxBody int64) *SessionHandler {
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	return &SessionHandler{reg: reg, st: st, maxBody: maxBody}
}

// --- request / response bodies ---

type createSessionRequest struct {
	Title     string   `json:"title"`
	Speaker   string   `json:"speaker"`
	Attendees []string `json:"attendees"`
}

type addressesRequest struct {
	Addresses []string `json:"addresses"`
}

type submitReviewRequest struct {
	Clarity     cipher.EncryptedInput `json:"clarity"`
	Innovation  cipher.EncryptedInput `json:"innovation"`
	Inspiration cipher.EncryptedInput `json:"inspiration"`
	Tags        uint8                 `json:"tags"`
	QADuration  int64                 `json:"qaDuration"`
}

type storeScoresRequest struct {
	Scores      model.Scores `json:"scores"`
	Attestation string       `json:"attestation"`
}

// AttestationResponse is what the organizer picks up from the oracle.
type AttestationResponse struct {
	SessionID model.SessionID `json:"sessionId"`
	Token     string          `json:"token"`
	Scores    model.Scores    `json:"scores"`
	IssuedAt  time.Time       `json:"issuedAt"`
}

// --- helpers ---

func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respond.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			respond.WriteBadRequest(w, "request body required")
			return false
		}
		respond.WriteBadRequest(w, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func caller(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	a, ok := auth.CallerFrom(r.Context())
	if !ok {
		respond.WriteUnauthorized(w, fmt.Sprintf("%s header with a valid address required", auth.Header))
	}
	return a, ok
}

func sessionID(w http.ResponseWriter, r *http.Request) (model.SessionID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respond.WriteBadRequest(w, fmt.Sprintf("invalid session id %q", raw))
		return 0, false
	}
	return model.SessionID(id), true
}

func pathAddress(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	a, err := model.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return "", false
	}
	return a, true
}

func parseAddresses(raw []string) ([]model.Address, error) {
	out := make([]model.Address, 0, len(raw))
	for _, s := range raw {
		a, err := model.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// --- handlers ---

// CreateSession POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	speaker, err := model.ParseAddress(req.Speaker)
	if err != nil {
		respond.WriteDomainError(w, model.NewError(model.CodeInvalidInput, "Invalid speaker address"))
		return
	}
	attendees, err := parseAddresses(req.Attendees)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	id, err := h.reg.CreateSession(r.Context(), who, req.Title, speaker, attendees)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// SessionCount GET /api/sessions/count
func (h *SessionHandler) SessionCount(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"count": h.reg.SessionCount()})
}

// GetSession GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.reg.GetSession(id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, snap)
}

// AuthorizeAttendees POST /api/sessions/{id}/attendees
func (h *SessionHandler) AuthorizeAttendees(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req addressesRequest
	if !h.decode(w, r, &req) {
		return
	}
	addrs, err := parseAddresses(req.Addresses)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if err := h.reg.AuthorizeAttendees(r.Context(), who, id, addrs); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAttendees GET /api/sessions/{id}/attendees
func (h *SessionHandler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	members, public, err := h.reg.AuthorizedAttendees(id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"attendees": members, "public": public})
}

// AttendeeStatus GET /api/sessions/{id}/attendees/{address}
func (h *SessionHandler) AttendeeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	a, ok := pathAddress(w, r)
	if !ok {
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"authorized":  h.reg.IsAuthorized(id, a),
		"hasReviewed": h.reg.HasReviewed(id, a),
	})
}

// SubmitReview POST /api/sessions/{id}/reviews
func (h *SessionHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req submitReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.reg.SubmitReview(r.Context(), who, id, registry.ReviewSubmission{
		Clarity:     req.Clarity,
		Innovation:  req.Innovation,
		Inspiration: req.Inspiration,
		Tags:        req.Tags,
		QADuration:  req.QADuration,
	})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replaced {
		status = http.StatusOK
	}
	respond.WriteJSON(w, status, map[string]interface{}{"replaced": res.Replaced, "revision": res.Revision})
}

// GetReview GET /api/sessions/{id}/reviews/{address}
func (h *SessionHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	a, ok := pathAddress(w, r)
	if !ok {
		return
	}
	rec, err := h.reg.Review(id, a)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reviewer":    rec.Reviewer,
		"tags":        rec.Tags,
		"qaDuration":  rec.QADuration,
		"revision":    rec.Revision,
		"submittedAt": rec.SubmittedAt,
	})
}

// CloseSession POST /api/sessions/{id}/close
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.reg.CloseSession(r.Context(), who, id); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestDecryption POST /api/sessions/{id}/decryption
func (h *SessionHandler) RequestDecryption(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, h.reg.RequestDecryption)
}

// RenewDecryptionGrant PUT /api/sessions/{id}/decryption
func (h *SessionHandler) RenewDecryptionGrant(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, h.reg.RenewDecryptionGrant)
}

type grantOp func(ctx context.Context, caller model.Address, id model.SessionID, g model.DecryptionGrant) error

func (h *SessionHandler) grant(w http.ResponseWriter, r *http.Request, op grantOp) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var g model.DecryptionGrant
	if !h.decode(w, r, &g) {
		return
	}
	if err := op(r.Context(), who, id, g); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"sessionId": id, "grant": g})
}

// SessionHandles GET /api/sessions/{id}/handles
func (h *SessionHandler) SessionHandles(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	hs, err := h.reg.SessionHandles(id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"handles": hs})
}

// GetAttestation GET /api/sessions/{id}/attestation (organizer only)
func (h *SessionHandler) GetAttestation(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.reg.GetSession(id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if snap.Organizer != who {
		respond.WriteDomainError(w, model.NewError(model.CodeUnauthorized, "Not organizer"))
		return
	}
	att, err := oracle.Latest(r.Context(), h.st, id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, AttestationResponse{
		SessionID: att.SessionID,
		Token:     att.Token,
		Scores:    att.Scores,
		IssuedAt:  att.IssuedAt,
	})
}

// StoreDecryptedScores POST /api/sessions/{id}/scores
func (h *SessionHandler) StoreDecryptedScores(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req storeScoresRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.StoreDecryptedScores(r.Context(), who, id, req.Scores, req.Attestation); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Averages GET /api/sessions/{id}/averages
func (h *SessionHandler) Averages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	avg, err := h.reg.Averages(id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, avg)
}
