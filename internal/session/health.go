package session

import (
	"sync"
	"time"
)

// Health tracks durable-backend reachability. It is shared mutable state read
// and written by every request, so all fields sit behind one mutex.
//
// Healthy means all operations go to the durable store. After a failure the
// gate degrades and routes everything to the fallback until the probe
// interval elapses, then lets a single call probe the durable path again.
// This avoids hammering a failing backend on every request while still
// recovering without manual intervention.
type Health struct {
	mu            sync.Mutex
	degraded      bool
	retryAt       time.Time
	probeInterval time.Duration
}

// NewHealth creates a gate in the healthy state.
func NewHealth(probeInterval time.Duration) *Health {
	return &Health{probeInterval: probeInterval}
}

// UseDurable reports whether the durable store should be attempted now.
// While degraded it permits one probe per elapsed interval: the winning
// caller also pushes retryAt forward so concurrent requests keep using the
// fallback instead of piling onto the probe.
func (h *Health) UseDurable(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.degraded {
		return true
	}
	if now.Before(h.retryAt) {
		return false
	}
	h.retryAt = now.Add(h.probeInterval)
	return true
}

// MarkFailure records a durable-store failure and reports whether this call
// flipped the gate from healthy to degraded.
func (h *Health) MarkFailure(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	flipped := !h.degraded
	h.degraded = true
	h.retryAt = now.Add(h.probeInterval)
	return flipped
}

// MarkSuccess records a successful durable-store call and reports whether
// this call recovered the gate from degraded to healthy.
func (h *Health) MarkSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	recovered := h.degraded
	h.degraded = false
	return recovered
}

// Degraded reports the current state, for health endpoints.
func (h *Health) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded
}
