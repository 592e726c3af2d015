package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one this store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Metadata is the open key/value mapping attached to a message: confidence
// score, query classification tag, supporting source count, acting user email.
type Metadata map[string]any

// Confidence extracts the confidence score, if present. JSON decoding
// produces float64; integer literals from Go callers are accepted too.
func (m Metadata) Confidence() (float64, bool) {
	switch v := m["confidence"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Message is one append-only conversation record. Content is immutable once
// written; the store assigns Seq to make ordering total within equal
// timestamps.
type Message struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}
