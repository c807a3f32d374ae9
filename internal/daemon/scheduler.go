package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Scheduler runs tick on a recurring timer and never lets two ticks overlap.
// A fire or manual trigger that finds a tick in progress is dropped.
type Scheduler struct {
	sem      *semaphore.Weighted
	interval func() time.Duration
	tick     func(context.Context)
	onSkip   func()
	logger   *zap.Logger
}

// NewScheduler re-reads interval every time the timer is armed, so a config
// change applies from the next fire.
func NewScheduler(interval func() time.Duration, tick func(context.Context), onSkip func(), logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sem:      semaphore.NewWeighted(1),
		interval: interval,
		tick:     tick,
		onSkip:   onSkip,
		logger:   logger,
	}
}

// TryTick runs one tick in the calling goroutine. It reports false when another tick was running.
func (s *Scheduler) TryTick(ctx context.Context) bool {
	return s.TryRun(ctx, s.tick)
}

// TryRun runs fn under the same guard as the scheduled tick.
func (s *Scheduler) TryRun(ctx context.Context, fn func(context.Context)) bool {
	if !s.sem.TryAcquire(1) {
		s.logger.Debug("tick skipped, previous tick still running")
		if s.onSkip != nil {
			s.onSkip()
		}
		return false
	}
	defer s.sem.Release(1)

	fn(ctx)
	return true
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	next := s.interval()
	timer := time.NewTimer(next)
	defer timer.Stop()
	s.logger.Info("scheduler started", zap.Duration("interval", next))

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.TryTick(ctx)
			if ctx.Err() != nil {
				return
			}
			d := s.interval()
			if d != next {
				s.logger.Info("schedule interval changed", zap.Duration("from", next), zap.Duration("to", d))
				next = d
			}
			timer.Reset(next)
		}
	}
}
