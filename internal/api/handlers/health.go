package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the store slice the health endpoints need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// healthBody is the probe response payload.
type healthBody struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Liveness handles GET /health. It answers as long as the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, healthBody{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Readiness handles GET /health/ready: healthy only when the database
// answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "database unreachable",
		})
		return
	}

	WriteSuccess(w, http.StatusOK, healthBody{Status: "healthy", Timestamp: time.Now().UTC()})
}
