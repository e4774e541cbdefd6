package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 10 * time.Second, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 11, 10, 10, 0, 3, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 11, 10, 10, 0, 10, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2024, 11, 10, 10, 0, 20, 0, time.UTC), s.nextTick(time.Date(2024, 11, 10, 10, 0, 10, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 11, 10, 10, 0, 10, 0, time.UTC), s.bucketStart(time.Date(2024, 11, 10, 10, 0, 10, 0, time.UTC)))
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 10 * time.Second}, zerolog.Nop())
	now := time.Date(2024, 11, 10, 10, 0, 3, 0, time.UTC)

	assert.Equal(t, now.Add(10*time.Second), s.nextTick(now))
	assert.Equal(t, now, s.bucketStart(now))
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

func TestRunOverlapsSlowTicks(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var (
		current  atomic.Int64
		peak     atomic.Int64
		finished atomic.Int64
	)
	tick := func(ctx context.Context, at time.Time) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		current.Add(-1)
		finished.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, tick)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, peak.Load(), int64(2), "slow ticks should overlap")
	assert.Zero(t, current.Load(), "Run must wait for in-flight ticks")
	assert.Zero(t, s.InFlight())
	assert.Positive(t, finished.Load())
}

func TestRunKeepsGoingAfterTickError(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var mu sync.Mutex
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 3 {
			cancel()
		}
		return errors.New("boom")
	})

	require.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3)
}

func TestRunStartupDelayCancelled(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
