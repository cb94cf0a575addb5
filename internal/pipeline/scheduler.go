package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Runner executes one pipeline run
type Runner interface {
	RunOnce(ctx context.Context) (*models.PipelineRun, error)
}

// Scheduler repeats runs on a fixed period. The first run starts
// immediately; later runs start on period boundaries measured from it.
type Scheduler struct {
	runner   Runner
	clock    Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(runner Runner, clock Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		clock:    clock,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

// NextRunTime returns the first period boundary after now, counting from
// last. Runs that overran whole periods skip the missed slots instead of
// firing back to back.
func NextRunTime(last, now time.Time, interval time.Duration) time.Time {
	next := last.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(last) / interval
	return last.Add((missed + 1) * interval)
}

// Run loops until ctx is cancelled. A failed or skipped run never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", "interval", s.interval)

	for {
		start := s.clock.Now()
		run, err := s.runner.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrRunSkipped):
			s.logger.Warn("Scheduled run skipped")
		case err != nil:
			s.logger.Error("Scheduled run failed", "error", err)
		default:
			s.logger.Info("Scheduled run complete", "run_id", run.ID, "status", run.Status)
		}

		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopped")
			return nil
		}

		now := s.clock.Now()
		next := NextRunTime(start, now, s.interval)
		s.logger.Info("Next run scheduled", "at", next.UTC().Format(time.RFC3339))

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-s.clock.After(next.Sub(now)):
		}
	}
}
