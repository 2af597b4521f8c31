package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradehook/internal/store"
)

// Cleanup prunes local order rows older than the retention window. These are
// rows the reconciler could never resolve, typically orphans from crashes
// between row creation and broker submission.
type Cleanup struct {
	repo      store.Repository
	logger    zerolog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewCleanup creates the retention job.
func NewCleanup(repo store.Repository, interval, retention time.Duration, logger zerolog.Logger) *Cleanup {
	return &Cleanup{
		repo:      repo,
		logger:    logger.With().Str("job", "cleanup").Logger(),
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (c *Cleanup) Name() string            { return "cleanup" }
func (c *Cleanup) Interval() time.Duration { return c.interval }

// Run deletes rows past retention.
func (c *Cleanup) Run(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)
	deleted, err := c.repo.DeleteOrdersOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		c.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned stale order rows")
	}
	return nil
}
