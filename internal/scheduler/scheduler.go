package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// TickFunc is invoked on every interval with the tick's scheduled time.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler fires ticks on a fixed cadence. Each tick runs in its own goroutine, so a slow
// tick never delays the next one and overlapping ticks run independently.
type Scheduler struct {
	opts     Options
	logger   zerolog.Logger
	inFlight atomic.Int64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// InFlight reports how many ticks are currently executing.
func (s *Scheduler) InFlight() int64 {
	return s.inFlight.Load()
}

// Run blocks, dispatching the tick function at each interval until ctx is cancelled, then waits
// for in-flight ticks to return.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	var wg conc.WaitGroup
	defer func() {
		if recovered := wg.WaitAndRecover(); recovered != nil {
			s.logger.Error().Err(recovered.AsError()).Msg("tick panicked")
		}
	}()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		at := s.bucketStart(next)
		next = next.Add(s.opts.Interval)

		running := s.inFlight.Add(1)
		s.logger.Info().Time("tick", at).Time("next_tick", next).Int64("in_flight", running).Msg("executing scheduled tick")

		wg.Go(func() {
			defer s.inFlight.Add(-1)
			if err := tick(ctx, at); err != nil {
				s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
			}
		})
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
