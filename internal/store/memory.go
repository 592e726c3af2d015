package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/parcelworks/kbassist/internal/domain"
)

// MemoryStore implements Store with process-local maps. It backs the
// degradation path when the durable store is unreachable, so expected
// throughput is low and one coarse lock is enough.
//
// Data held here is lost on restart and is never reconciled back into the
// durable store after recovery.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	messages map[string][]domain.Message
	nextSeq  map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]domain.Message),
		nextSeq:  make(map[string]int64),
	}
}

// Ping always succeeds; the fallback is as reachable as the process itself.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// CreateSession stores a new session record.
func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionID]; ok {
		return fmt.Errorf("create session %s: %w", session.SessionID, errdefs.ErrAlreadyExists)
	}
	clone := *session
	m.sessions[session.SessionID] = &clone
	return nil
}

// GetSession retrieves a session by its identifier.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	clone := *sess
	return &clone, nil
}

// UpdateSession merges the non-nil fields of upd into the stored record.
func (m *MemoryStore) UpdateSession(_ context.Context, sessionID string, upd SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("update session %s: %w", sessionID, errdefs.ErrNotFound)
	}

	if upd.LastActivity != nil {
		sess.LastActivity = *upd.LastActivity
	}
	if upd.MessageCount != nil {
		sess.MessageCount = *upd.MessageCount
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.Summary != nil {
		sess.Summary = *upd.Summary
	}
	if upd.TotalQueries != nil {
		sess.TotalQueries = *upd.TotalQueries
	}
	if upd.Escalations != nil {
		sess.Escalations = *upd.Escalations
	}
	if upd.AvgConfidence != nil {
		sess.AvgConfidence = *upd.AvgConfidence
	}
	if upd.ConfidenceSamples != nil {
		sess.ConfidenceSamples = *upd.ConfidenceSamples
	}
	return nil
}

// AppendMessage stores a new message, assigning the next per-session
// sequence number.
func (m *MemoryStore) AppendMessage(_ context.Context, message *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq[message.SessionID]++
	msg := *message
	msg.Seq = m.nextSeq[message.SessionID]
	message.Seq = msg.Seq
	m.messages[message.SessionID] = append(m.messages[message.SessionID], msg)
	return nil
}

// QueryMessages returns up to limit of the most recent messages for a
// session, in ascending (timestamp, seq) order.
func (m *MemoryStore) QueryMessages(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.Message, len(all))
	copy(out, all)
	return out, nil
}

// StaleSessions returns sessions whose last activity is older than cutoff.
func (m *MemoryStore) StaleSessions(_ context.Context, cutoff time.Time) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []domain.Session
	for _, sess := range m.sessions {
		if sess.IdleSince(cutoff) {
			stale = append(stale, *sess)
		}
	}
	return stale, nil
}

// DeleteSessionCascade removes the session record and all its messages.
// Deleting a session that does not exist is a no-op.
func (m *MemoryStore) DeleteSessionCascade(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	delete(m.nextSeq, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
