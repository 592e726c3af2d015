// Package api provides HTTP handlers for the session store API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parcelworks/kbassist/internal/config"
	"github.com/parcelworks/kbassist/internal/session"
)

// Handler provides common handler utilities.
type Handler struct {
	mgr *session.Manager
	cfg *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(mgr *session.Manager, cfg *config.Config) *Handler {
	return &Handler{mgr: mgr, cfg: cfg}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusForError maps session-layer errors onto HTTP status codes. Backend
// degradation never reaches here; only business-rule errors do.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
