// Package session implements the conversation session lifecycle for the
// knowledge-base assistant: creation, lazy TTL expiration, message appends
// with rolling aggregates, history windows, and degradation to an in-memory
// fallback when the durable store is unreachable.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injectable for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDFunc generates unique identifiers for sessions and messages.
type IDFunc func() string

func defaultID() string { return uuid.NewString() }
