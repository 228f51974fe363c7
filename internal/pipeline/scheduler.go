package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Cycler runs one fetch-and-forward cycle.
type Cycler interface {
	RunCycle(ctx context.Context) error
}

// Scheduler triggers a cycle immediately and then on every tick. Ticks only
// enqueue a request into a one-slot channel drained by a single worker, so a
// slow cycle delays the next one instead of overlapping it, and ticks missed
// meanwhile collapse into one.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(c Cycler, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cycler: c, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled and the in-flight cycle has returned.
func (s *Scheduler) Run(ctx context.Context) {
	requests := make(chan struct{}, 1)
	requests <- struct{}{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-requests:
				if err := s.cycler.RunCycle(ctx); err != nil {
					s.logger.Error("cycle failed", "error", err)
				}
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-ticker.C:
			select {
			case requests <- struct{}{}:
			default:
				s.logger.Debug("cycle still pending, dropping tick")
			}
		}
	}
}
