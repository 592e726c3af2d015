package session

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper runs a background goroutine that periodically removes
// sessions idle past the TTL together with their messages. Removal is
// best-effort per session: a failed delete is logged and retried on the
// next sweep.
func StartSweeper(ctx context.Context, mgr *Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("cleanup sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				RunSweep(ctx, mgr)
			case <-ctx.Done():
				slog.Info("cleanup sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// RunSweep performs a single cleanup pass.
func RunSweep(ctx context.Context, mgr *Manager) {
	stale, err := mgr.StaleSessions(ctx)
	if err != nil {
		slog.Error("sweeper failed to list stale sessions", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	slog.Info("sweeper found stale sessions", "count", len(stale))

	cleaned := 0
	for _, sess := range stale {
		if err := mgr.DeleteSessionCascade(ctx, sess.SessionID); err != nil {
			slog.Warn("sweeper failed to delete session",
				"error", err,
				"session_id", sess.SessionID)
			continue
		}
		cleaned++
	}

	slog.Info("sweeper cleanup completed", "cleaned", cleaned, "failed", len(stale)-cleaned)
}
