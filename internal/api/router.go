// Package api is the HTTP transport of the review service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mewiskl/zama-Talklet-Review/internal/api/recovery"
	"github.com/mewiskl/zama-Talklet-Review/internal/api/respond"
	"github.com/mewiskl/zama-Talklet-Review/internal/auth"
	"github.com/mewiskl/zama-Talklet-Review/internal/registry"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// CipherInfo tells clients how to encrypt their ratings.
type CipherInfo struct {
	Backend   string `json:"backend"`
	PublicKey []byte `json:"publicKey,omitempty"`
	// CanReplaceReviews reports whether resubmission replaces an earlier review.
	CanReplaceReviews bool `json:"canReplaceReviews"`
}

// Deps wires the router.
type Deps struct {
	Registry     *registry.Registry
	Store        store.Store
	Cipher       CipherInfo
	MaxBodyBytes int64
	Healthy      func() bool
	Unhealthy    func() []string
}

// NewRouter wires HTTP routes to handlers.
func NewRouter(d Deps) *mux.Router {
	root := mux.NewRouter()
	root.Use(RequestID, Metrics, recovery.Middleware, auth.Middleware)

	s := NewSessionHandler(d.Registry, d.Store, d.MaxBodyBytes)
	root.HandleFunc("/api/sessions", s.CreateSession).Methods("POST")
	root.HandleFunc("/api/sessions/count", s.SessionCount).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}", s.GetSession).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/attendees", s.AuthorizeAttendees).Methods("POST")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/attendees", s.ListAttendees).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/attendees/{address}", s.AttendeeStatus).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/reviews", s.SubmitReview).Methods("POST")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/reviews/{address}", s.GetReview).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/close", s.CloseSession).Methods("POST")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/decryption", s.RequestDecryption).Methods("POST")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/decryption", s.RenewDecryptionGrant).Methods("PUT")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/handles", s.SessionHandles).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/attestation", s.GetAttestation).Methods("GET")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/scores", s.StoreDecryptedScores).Methods("POST")
	root.HandleFunc("/api/sessions/{id:[0-9]+}/averages", s.Averages).Methods("GET")

	info := d.Cipher
	info.CanReplaceReviews = d.Registry.CanReplaceReviews()
	root.HandleFunc("/api/cipher", func(w http.ResponseWriter, r *http.Request) {
		respond.WriteJSON(w, http.StatusOK, info)
	}).Methods("GET")

	healthy := d.Healthy
	if healthy == nil {
		healthy = func() bool { return true }
	}
	root.HandleFunc("/api/health", NewHealthHandler(healthy, d.Unhealthy).CheckHealth).Methods("GET")
	root.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return root
}
