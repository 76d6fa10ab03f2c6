package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// KeyPurger is the slice of the key repository the cleaner needs.
type KeyPurger interface {
	// PurgeDeleted removes soft-deleted keys older than the cutoff.
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
	// PurgeUnverified removes unverified submissions older than the cutoff.
	PurgeUnverified(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartRetentionCleaner purges removed keys and stale unverified
// submissions on the given interval. Both purges share one retention
// window: rows untouched for longer than retention go away.
func StartRetentionCleaner(
	ctx context.Context,
	repo KeyPurger,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				if n, err := repo.PurgeDeleted(ctx, cutoff); err != nil {
					log.Error("failed to purge removed keys", zap.Error(err))
				} else if n > 0 {
					log.Info("purged removed keys", zap.Int64("removed", n))
				}
				if n, err := repo.PurgeUnverified(ctx, cutoff); err != nil {
					log.Error("failed to purge stale submissions", zap.Error(err))
				} else if n > 0 {
					log.Info("purged stale submissions", zap.Int64("removed", n))
				}
			}
		}
	}()
}
