package api

import (
	"net/http"
	"time"

	"github.com/mewiskl/zama-Talklet-Review/internal/api/respond"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	healthy   func() bool
	unhealthy func() []string
}

// NewHealthHandler reports the state of the service health aggregator.
// unhealthy may be nil.
func NewHealthHandler(healthy func() bool, unhealthy func() []string) *HealthHandler {
	return &HealthHandler{healthy: healthy, unhealthy: unhealthy}
}

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !h.healthy() {
		response["status"] = "unhealthy"
		if h.unhealthy != nil {
			response["failing"] = h.unhealthy()
		}
	}
	respond.WriteJSON(w, http.StatusOK, response)
}
