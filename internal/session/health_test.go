package session

import (
	"testing"
	"time"
)

func TestHealthStartsHealthy(t *testing.T) {
	t.Parallel()

	h := NewHealth(30 * time.Second)
	if !h.UseDurable(time.Now()) {
		t.Fatal("new gate should route to durable")
	}
	if h.Degraded() {
		t.Fatal("new gate should not be degraded")
	}
}

func TestHealthDegradesUntilProbeInterval(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealth(30 * time.Second)

	if !h.MarkFailure(t0) {
		t.Fatal("first failure should flip the gate")
	}
	if h.MarkFailure(t0) {
		t.Fatal("second failure should not flip again")
	}
	if !h.Degraded() {
		t.Fatal("gate should be degraded")
	}

	// Before the interval elapses, every call stays on the fallback.
	if h.UseDurable(t0.Add(time.Second)) {
		t.Fatal("should not probe before the interval")
	}
	if h.UseDurable(t0.Add(29 * time.Second)) {
		t.Fatal("should not probe before the interval")
	}

	// After the interval, one call gets through as a probe...
	if !h.UseDurable(t0.Add(31 * time.Second)) {
		t.Fatal("expected a probe after the interval")
	}
	// ...and the probe pushes the window so a concurrent call does not.
	if h.UseDurable(t0.Add(32 * time.Second)) {
		t.Fatal("second caller should stay on the fallback while the probe is out")
	}
}

func TestHealthRecovers(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	h := NewHealth(30 * time.Second)

	h.MarkFailure(t0)
	if !h.MarkSuccess() {
		t.Fatal("success while degraded should report recovery")
	}
	if h.MarkSuccess() {
		t.Fatal("success while healthy should not report recovery")
	}
	if !h.UseDurable(t0.Add(time.Millisecond)) {
		t.Fatal("recovered gate should route to durable immediately")
	}
}
