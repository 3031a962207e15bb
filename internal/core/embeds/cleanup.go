package embeds

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredPurger is implemented by caches that keep expired rows around until swept
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartCleanupJob starts a background goroutine that periodically purges
// expired cache entries. Returns a cancel function that should be called
// during graceful shutdown. If interval is 0 or negative, no job is started
// and the cancel function is a no-op.
func StartCleanupJob(p ExpiredPurger, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		slog.Info("[EMBED] cache cleanup job disabled (interval=0)")
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("[EMBED] CRITICAL: cache cleanup job panicked",
					"panic", r,
				)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("[EMBED] cache cleanup job started", "interval", interval)

		for {
			select {
			case <-ctx.Done():
				slog.Info("[EMBED] cache cleanup job stopped")
				return
			case <-ticker.C:
				removed, err := p.PurgeExpired(ctx)
				if err != nil {
					slog.Error("[EMBED] cache cleanup error", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("[EMBED] purged expired cache entries", "removed", removed)
				}
			}
		}
	}()

	return cancel
}
