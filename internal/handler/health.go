package handler

import (
	"net/http"

	"github.com/alphaworks/marketplace-messaging/internal/notifier"
	"github.com/alphaworks/marketplace-messaging/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	notifier notifier.Notifier
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, notif notifier.Notifier) *HealthHandler {
	return &HealthHandler{
		repo:     repo,
		notifier: notif,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store unreachable",
		})
		return
	}

	if err := h.notifier.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "notifier unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
