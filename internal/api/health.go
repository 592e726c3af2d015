package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthHandler reports store connectivity and degradation state.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterRoutes registers the health endpoint.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health returns the durable store reachability and whether requests are
// currently served by the in-memory fallback. Degraded mode is still a 200:
// the service keeps working, just with the documented data-loss window.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	durable := h.mgr.Ping(r.Context()) == nil
	degraded := h.mgr.Degraded()

	status := "ok"
	if degraded {
		status = "degraded"
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"durable":  durable,
		"degraded": degraded,
	})
}
