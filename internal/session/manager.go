package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/parcelworks/kbassist/internal/domain"
	"github.com/parcelworks/kbassist/internal/store"
)

// Business-rule errors surfaced to callers unchanged. Backend unavailability
// is never among them: it flips the health gate and reroutes instead.
var (
	// ErrSessionNotFound means the session does not exist in the active store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the session idled past its TTL; callers must
	// create a new session.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionClosed means the session was explicitly closed.
	ErrSessionClosed = errors.New("session closed")
)

// Manager orchestrates session lifecycle and message persistence. It owns the
// durable-vs-fallback decision per call: data written to the fallback during
// an outage is not reconciled into the durable store on recovery, which is an
// accepted inconsistency window.
type Manager struct {
	durable  store.Store
	fallback store.Store
	health   *Health
	ttl      time.Duration
	clock    Clock
	newID    IDFunc
	log      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithIDFunc overrides identifier generation.
func WithIDFunc(f IDFunc) Option {
	return func(m *Manager) { m.newID = f }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a session manager. ttl is the inactivity window after
// which a session is considered expired.
func NewManager(durable, fallback store.Store, health *Health, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		durable:  durable,
		fallback: fallback,
		health:   health,
		ttl:      ttl,
		clock:    systemClock{},
		newID:    defaultID,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// do runs op against the durable store when the health gate allows it and
// falls back to the in-memory store on unavailability. Any other outcome of
// a durable call, including not-found, proves the backend reachable.
func (m *Manager) do(name string, op func(store.Store) error) error {
	if m.health.UseDurable(m.clock.Now()) {
		err := op(m.durable)
		if !errdefs.IsUnavailable(err) {
			if m.health.MarkSuccess() {
				m.log.Info("durable store recovered, leaving degraded mode")
			}
			return err
		}
		if m.health.MarkFailure(m.clock.Now()) {
			m.log.Warn("durable store unavailable, degrading to in-memory fallback",
				"op", name, "error", err)
		}
	}
	return op(m.fallback)
}

// CreateSession creates a new active session for the given user.
func (m *Manager) CreateSession(ctx context.Context, user domain.UserIdentity) (*domain.Session, error) {
	now := m.clock.Now()
	sess := &domain.Session{
		SessionID:    m.newID(),
		User:         user,
		CreatedAt:    now,
		LastActivity: now,
		Status:       domain.StatusActive,
	}

	err := m.do("create_session", func(st store.Store) error {
		return st.CreateSession(ctx, sess)
	})
	if err != nil {
		// AlreadyExists here means an ID collision, which indicates a
		// broken ID provider rather than a caller mistake.
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.log.Info("session created", "session_id", sess.SessionID, "user", user.Email)
	return sess, nil
}

// GetSession retrieves a session, lazily marking it expired when its last
// activity is older than the TTL. Expiration is checked on read, not by a
// background timer, so an un-accessed session stays logically stale until
// the next read or the cleanup sweep.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := m.do("get_session", func(st store.Store) error {
		got, err := st.GetSession(ctx, sessionID)
		sess = got
		return err
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if sess.Status == domain.StatusActive && sess.IdleSince(m.clock.Now().Add(-m.ttl)) {
		sess.Status = domain.StatusExpired
		status := domain.StatusExpired
		writeErr := m.do("expire_session", func(st store.Store) error {
			return st.UpdateSession(ctx, sessionID, store.SessionUpdate{Status: &status})
		})
		if writeErr != nil {
			m.log.Warn("failed to persist session expiration", "session_id", sessionID, "error", writeErr)
		} else {
			m.log.Info("session expired", "session_id", sessionID)
		}
	}
	return sess, nil
}

// AddMessage appends a message to a session, bumping message_count and
// last_activity. User messages increment total_queries; assistant messages
// carrying a confidence value fold it into the running average.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, role domain.Role, content string, metadata domain.Metadata) (*domain.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.AcceptsMessages() {
		if sess.Status == domain.StatusClosed {
			return nil, ErrSessionClosed
		}
		return nil, ErrSessionExpired
	}

	now := m.clock.Now()
	msg := &domain.Message{
		MessageID: m.newID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}
	err = m.do("append_message", func(st store.Store) error {
		return st.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	count := sess.MessageCount + 1
	upd := store.SessionUpdate{
		MessageCount: &count,
		LastActivity: &now,
	}
	if role == domain.RoleUser {
		queries := sess.TotalQueries + 1
		upd.TotalQueries = &queries
	}
	if role == domain.RoleAssistant {
		if confidence, ok := metadata.Confidence(); ok {
			samples := sess.ConfidenceSamples + 1
			avg := sess.AvgConfidence + (confidence-sess.AvgConfidence)/float64(samples)
			upd.ConfidenceSamples = &samples
			upd.AvgConfidence = &avg
		}
	}

	err = m.do("update_session_aggregates", func(st store.Store) error {
		return st.UpdateSession(ctx, sessionID, upd)
	})
	if err != nil {
		return nil, fmt.Errorf("update session aggregates: %w", err)
	}
	return msg, nil
}

// GetRecentMessages returns up to limit of the most recent messages in
// chronological order, for building downstream context windows.
func (m *Manager) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.do("query_messages", func(st store.Store) error {
		got, err := st.QueryMessages(ctx, sessionID, limit)
		messages = got
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return messages, nil
}

// UpdateSummary overwrites the conversation summary. No history of prior
// summaries is kept.
func (m *Manager) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	err := m.do("update_summary", func(st store.Store) error {
		return st.UpdateSession(ctx, sessionID, store.SessionUpdate{Summary: &summary})
	})
	if errdefs.IsNotFound(err) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// RecordEscalation increments the escalation counter, used when confidence
// drops below the caller's threshold or a human handoff occurs.
func (m *Manager) RecordEscalation(ctx context.Context, sessionID string) error {
	var sess *domain.Session
	err := m.do("get_session", func(st store.Store) error {
		got, err := st.GetSession(ctx, sessionID)
		sess = got
		return err
	})
	if errdefs.IsNotFound(err) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	escalations := sess.Escalations + 1
	err = m.do("record_escalation", func(st store.Store) error {
		return st.UpdateSession(ctx, sessionID, store.SessionUpdate{Escalations: &escalations})
	})
	if err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	m.log.Info("escalation recorded", "session_id", sessionID, "escalations", escalations)
	return nil
}

// CloseSession marks a session closed. Closed sessions reject new messages;
// physical removal stays with the cleanup sweep.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	status := domain.StatusClosed
	err := m.do("close_session", func(st store.Store) error {
		return st.UpdateSession(ctx, sessionID, store.SessionUpdate{Status: &status})
	})
	if errdefs.IsNotFound(err) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	m.log.Info("session closed", "session_id", sessionID)
	return nil
}

// StaleSessions returns sessions idle past the TTL, for the cleanup sweep.
func (m *Manager) StaleSessions(ctx context.Context) ([]domain.Session, error) {
	cutoff := m.clock.Now().Add(-m.ttl)
	var sessions []domain.Session
	err := m.do("stale_sessions", func(st store.Store) error {
		got, err := st.StaleSessions(ctx, cutoff)
		sessions = got
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stale sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSessionCascade removes a session together with all its messages.
// Idempotent: deleting a session that no longer exists succeeds.
func (m *Manager) DeleteSessionCascade(ctx context.Context, sessionID string) error {
	err := m.do("delete_session_cascade", func(st store.Store) error {
		return st.DeleteSessionCascade(ctx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("delete session cascade: %w", err)
	}
	return nil
}

// Ping checks durable-store connectivity directly, bypassing the gate.
func (m *Manager) Ping(ctx context.Context) error {
	return m.durable.Ping(ctx)
}

// Degraded reports whether calls currently route to the fallback store.
func (m *Manager) Degraded() bool {
	return m.health.Degraded()
}
