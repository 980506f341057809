package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCheckInterval is how often the expiry watcher revalidates.
const DefaultCheckInterval = time.Minute

// StartExpiryWatcher runs a background goroutine that periodically
// revalidates the session so that a credential expiring while the client
// runs is discarded from the store. It stops when ctx is done.
func StartExpiryWatcher(ctx context.Context, m *Manager, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session expiry watcher started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				checkExpiry(ctx, m)
			case <-ctx.Done():
				slog.Info("Session expiry watcher shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func checkExpiry(ctx context.Context, m *Manager) {
	before := m.Identity()
	if err := m.Revalidate(ctx); err != nil {
		slog.Error("Session expiry check failed", "error", err)
		return
	}
	if before != "" && !m.IsAuthenticated() {
		slog.Info("Session expired", "identity", before)
	}
}
