// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/parcelworks/kbassist/internal/domain"
)

// Store is the shared contract for session and message persistence,
// implemented by both the durable SQLite adapter and the in-memory fallback.
//
// Failures surface as errdefs kinds: ErrNotFound when a record is absent,
// ErrAlreadyExists on identifier collision, ErrUnavailable when the backend
// cannot be reached. Callers check them with errdefs.IsNotFound and friends.
type Store interface {
	// CreateSession stores a new session record.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by its identifier.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession merges the non-nil fields of upd into the stored record,
	// leaving unspecified fields untouched.
	UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error

	// AppendMessage stores a new message and assigns its per-session sequence
	// number.
	AppendMessage(ctx context.Context, message *domain.Message) error

	// QueryMessages returns up to limit of the most recent messages for a
	// session, in ascending (timestamp, seq) order. limit <= 0 means no
	// limit. A session with no messages yields an empty slice, not an error.
	QueryMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// StaleSessions returns sessions whose last activity is older than cutoff,
	// for the cleanup sweep.
	StaleSessions(ctx context.Context, cutoff time.Time) ([]domain.Session, error)

	// DeleteSessionCascade removes the session record and all its messages.
	// Deleting a session that does not exist is a no-op, not an error.
	DeleteSessionCascade(ctx context.Context, sessionID string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// SessionUpdate lists the mutable session fields. Nil fields are left as
// stored.
type SessionUpdate struct {
	LastActivity      *time.Time
	MessageCount      *int
	Status            *domain.SessionStatus
	Summary           *string
	TotalQueries      *int
	Escalations       *int
	AvgConfidence     *float64
	ConfidenceSamples *int
}

// IsZero reports whether the update carries no fields.
func (u SessionUpdate) IsZero() bool {
	return u.LastActivity == nil && u.MessageCount == nil && u.Status == nil &&
		u.Summary == nil && u.TotalQueries == nil && u.Escalations == nil &&
		u.AvgConfidence == nil && u.ConfidenceSamples == nil
}
