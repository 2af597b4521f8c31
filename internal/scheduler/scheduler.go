// Package scheduler runs the background jobs: order reconciliation, stale
// order cleanup, and dividend-date refresh.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one recurring unit of background work. Run must be safe to call
// again after an error; the scheduler logs failures and keeps the cadence.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Scheduler drives registered jobs on their individual tickers. Runs of the
// same job never overlap; distinct jobs run concurrently.
type Scheduler struct {
	logger zerolog.Logger
	jobs   []Job

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job. Each job runs once immediately, then
// on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	logger := s.logger.With().Str("job", job.Name()).Logger()
	s.runOnce(ctx, job, logger)

	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job, logger)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, logger zerolog.Logger) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("job run failed")
		return
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("job run completed")
}
