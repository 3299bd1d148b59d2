package userphone

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner enforces the retention policy: message logs exist only for the
// life of the call plus a short grace window. Flagged calls are pinned
// until moderation clears them; ongoing calls are never touched.
type Cleaner struct {
	repo     Repository
	grace    time.Duration
	interval time.Duration
	clock    func() time.Time
	log      *slog.Logger
}

func NewCleaner(repo Repository, grace, interval time.Duration, log *slog.Logger) *Cleaner {
	return &Cleaner{
		repo:     repo,
		grace:    grace,
		interval: interval,
		clock:    time.Now,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, purging on each tick.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.purgeOnce(ctx)
		}
	}
}

func (c *Cleaner) purgeOnce(ctx context.Context) {
	cutoff := c.clock().Add(-c.grace)
	n, err := c.repo.PurgeEndedBefore(ctx, cutoff)
	if err != nil {
		c.log.Error("retention purge failed", "err", err)
		return
	}
	if n > 0 {
		c.log.Info("retention purge complete", "purged", n, "cutoff", cutoff)
	}
}
