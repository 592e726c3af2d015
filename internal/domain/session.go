// Package domain contains core domain types for the knowledge-base assistant.
package domain

import (
	"time"
)

// SessionStatus tracks the session lifecycle state.
type SessionStatus string

const (
	// StatusActive accepts new messages.
	StatusActive SessionStatus = "active"
	// StatusExpired is set lazily when a read finds the session idle past TTL.
	StatusExpired SessionStatus = "expired"
	// StatusClosed is set by an explicit close. Terminal, like expired.
	StatusClosed SessionStatus = "closed"
)

// UserIdentity describes the person a session belongs to.
type UserIdentity struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
	Division string `json:"division,omitempty"`
}

// Session is a bounded conversational context for one user.
type Session struct {
	SessionID    string        `json:"session_id"`
	User         UserIdentity  `json:"user"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	MessageCount int           `json:"message_count"`
	Status       SessionStatus `json:"status"`
	Summary      string        `json:"summary,omitempty"`

	// Rolling aggregates maintained on every append.
	TotalQueries  int     `json:"total_queries"`
	Escalations   int     `json:"escalations"`
	AvgConfidence float64 `json:"avg_confidence"`

	// ConfidenceSamples counts the assistant confidence values folded into
	// AvgConfidence. Needed to keep the incremental mean exact.
	ConfidenceSamples int `json:"confidence_samples"`
}

// IdleSince reports whether the session has seen no activity since cutoff.
func (s *Session) IdleSince(cutoff time.Time) bool {
	return s.LastActivity.Before(cutoff)
}

// AcceptsMessages reports whether new messages may be appended. Expired and
// closed sessions reject appends; callers must create a new session instead.
func (s *Session) AcceptsMessages() bool {
	return s.Status == StatusActive
}
