// Package reconcile drives the periodic sweeps that expire rooms, groups,
// and voting rounds.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweep is one reconciliation pass. Errors are logged by the scheduler and
// never stop the loop; per-entity conflicts are expected to be handled inside
// the sweep itself.
type Sweep func(ctx context.Context) error

// Job pairs a sweep with its cadence.
type Job struct {
	Name     string
	Interval time.Duration
	Run      Sweep
}

// Scheduler runs each job on its own ticker until the context is cancelled.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewScheduler constructs a scheduler over the given jobs.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start launches one goroutine per job. Each job runs once immediately and
// then on every tick. Start returns right away; use Wait after cancelling the
// context to drain the loops.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Run == nil || job.Interval <= 0 {
			s.logger.Warn("skipping misconfigured sweep", "sweep", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Wait blocks until every sweep loop has observed cancellation and returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	logger := s.logger.With("sweep", job.Name, "interval", job.Interval)
	logger.InfoContext(ctx, "sweep loop started")

	s.runOnce(ctx, job, logger)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, job, logger)
		case <-ctx.Done():
			logger.InfoContext(ctx, "sweep loop stopped")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "sweep failed", "error", err)
	}
}
