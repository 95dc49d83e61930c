package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartTTLWorker sweeps.
const DefaultSweepInterval = 5 * time.Minute

// CleanupCallback is called after a sweep that removed sessions.
type CleanupCallback func(removed int64)

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle for longer than ttl. It stops when ctx is canceled.
func StartTTLWorker(ctx context.Context, repo Repository, interval, ttl time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep performs one cleanup pass and returns the number of sessions removed.
func Sweep(ctx context.Context, repo Repository, ttl time.Duration, onCleanup CleanupCallback) int64 {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("TTL worker: context canceled during cleanup", "error", err)
			return 0
		}
		slog.Error("TTL worker failed to cleanup expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("TTL worker cleaned up expired sessions", "count", deleted)
		if onCleanup != nil {
			onCleanup(deleted)
		}
	}
	return deleted
}
