package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/parcelworks/kbassist/internal/domain"
	"github.com/parcelworks/kbassist/internal/identity"
	"github.com/parcelworks/kbassist/internal/session"
)

// SessionHandler handles the session and message endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{sessionID}", h.Get)
		r.Delete("/{sessionID}", h.Close)
		r.Post("/{sessionID}/messages", h.AddMessage)
		r.Get("/{sessionID}/messages", h.RecentMessages)
		r.Put("/{sessionID}/summary", h.UpdateSummary)
		r.Post("/{sessionID}/escalations", h.RecordEscalation)
	})
}

// Create starts a new session for the authenticated user.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := identity.FromContext(r.Context())
	if user.Email == "" {
		Error(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	sess, err := h.mgr.CreateSession(r.Context(), user)
	if err != nil {
		slog.Error("failed to create session", "error", err, "user", user.Email)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	JSON(w, http.StatusCreated, sess)
}

// Get returns a session, applying lazy TTL expiration.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.mgr.GetSession(r.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			slog.Error("failed to get session", "error", err, "session_id", sessionID)
		}
		Error(w, statusForError(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, sess)
}

// Close marks a session closed. Removal is left to the cleanup sweep.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.mgr.CloseSession(r.Context(), sessionID); err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			slog.Error("failed to close session", "error", err, "session_id", sessionID)
		}
		Error(w, statusForError(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type addMessageRequest struct {
	Role     domain.Role     `json:"role"`
	Content  string          `json:"content"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
}

// AddMessage appends a message to a session.
func (h *SessionHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Role.Valid() {
		Error(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content cannot be empty")
		return
	}

	// Record the acting user for audit alongside caller-supplied metadata.
	if user := identity.FromContext(r.Context()); user.Email != "" {
		if req.Metadata == nil {
			req.Metadata = domain.Metadata{}
		}
		req.Metadata["acting_user"] = user.Email
	}

	msg, err := h.mgr.AddMessage(r.Context(), sessionID, req.Role, req.Content, req.Metadata)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("failed to add message", "error", err, "session_id", sessionID)
		}
		Error(w, status, err.Error())
		return
	}

	JSON(w, http.StatusCreated, msg)
}

// RecentMessages returns the most recent messages in chronological order.
func (h *SessionHandler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := h.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := h.mgr.GetRecentMessages(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("failed to query messages", "error", err, "session_id", sessionID)
		Error(w, statusForError(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}

type updateSummaryRequest struct {
	Summary string `json:"summary"`
}

// UpdateSummary overwrites the conversation summary.
func (h *SessionHandler) UpdateSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req updateSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.mgr.UpdateSummary(r.Context(), sessionID, req.Summary); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("failed to update summary", "error", err, "session_id", sessionID)
		}
		Error(w, status, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RecordEscalation increments the session escalation counter.
func (h *SessionHandler) RecordEscalation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.mgr.RecordEscalation(r.Context(), sessionID); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("failed to record escalation", "error", err, "session_id", sessionID)
		}
		Error(w, status, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
