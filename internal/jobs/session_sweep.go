package jobs

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"acadex/checkin/internal/config"
	"acadex/checkin/internal/db"
)

// StartSessionSweepJob periodically deletes check-in sessions whose window
// has elapsed. Expiry is already enforced at redemption time; the sweeper
// keeps stale rows from accumulating.
func StartSessionSweepJob(ctx context.Context, cfg config.Config, store *db.Store) {
	if !cfg.SweepJobEnabled {
		return
	}
	if store == nil {
		log.Printf("session sweep job disabled: store not configured")
		return
	}
	interval := cfg.SweepJobInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.SweepJobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				deleted, err := store.Queries.DeleteExpiredSessions(tickCtx, pgTime(now))
				cancel()
				if err != nil {
					log.Printf("session sweep job error: %v", err)
					continue
				}
				if deleted > 0 {
					log.Printf("session sweep job deleted %d sessions", deleted)
				}
			}
		}
	}()
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}
