package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartSweeper gets a non-positive interval.
const DefaultSweepInterval = time.Minute

// StartSweeper periodically applies the store's eviction policy until ctx is
// done. onEvict, when set, receives the number of removed sessions.
func StartSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger *slog.Logger, onEvict func(int)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		logger.Info("session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				n, err := s.Sweep(ctx)
				if err != nil {
					logger.Error("session sweep failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("session sweep evicted sessions", "count", n)
					if onEvict != nil {
						onEvict(n)
					}
				}
			case <-ctx.Done():
				logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
