package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stockfeed/internal/delivery"
	"stockfeed/internal/pricing"
	"stockfeed/internal/quote"
	"stockfeed/internal/scheduler"
	"stockfeed/internal/storage"
)

var (
	// ErrFetchFailed aborts a tick: nothing is updated, delivered or persisted.
	ErrFetchFailed = errors.New("fetch quotes failed")
	// ErrPersistFailed marks a computed batch the store did not accept.
	ErrPersistFailed = errors.New("persist quotes failed")
)

const defaultPersistTimeout = 5 * time.Second

// Stage names the step a tick reached.
type Stage string

const (
	StageTriggered  Stage = "triggered"
	StageFetching   Stage = "fetching"
	StageUpdating   Stage = "updating"
	StageDelivering Stage = "delivering"
	StageCompleted  Stage = "completed"
)

// BatchResult summarises one tick.
type BatchResult struct {
	TickID     string
	Tick       time.Time
	Stage      Stage
	Quotes     []quote.Quote
	Excluded   []pricing.RuleMiss
	Delivery   delivery.Result
	PersistErr error
	Skipped    bool
}

// Options tune the orchestrator.
type Options struct {
	AdvisoryLockKey int64
	PersistTimeout  time.Duration
	Now             func() time.Time
}

// Service orchestrates fetching, price updates, delivery and persistence per tick.
type Service struct {
	scheduler *scheduler.Scheduler
	store     storage.QuoteStore
	updater   *pricing.Updater
	sink      delivery.Sink
	logger    zerolog.Logger

	now            func() time.Time
	persistTimeout time.Duration
	locker         storage.AdvisoryLocker
	lockKey        int64
}

// New constructs the feed service. sched may be nil for one-off ticks.
func New(opts Options, sched *scheduler.Scheduler, store storage.QuoteStore, updater *pricing.Updater, sink delivery.Sink, logger zerolog.Logger) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:      sched,
		store:          store,
		updater:        updater,
		sink:           sink,
		logger:         logger.With().Str("component", "service").Logger(),
		now:            now,
		persistTimeout: persistTimeout,
		locker:         locker,
		lockKey:        opts.AdvisoryLockKey,
	}
}

// Run begins the scheduled tick loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, tick time.Time) error {
		_, err := s.ProcessTick(ctx, tick)
		return err
	})
}

// ProcessTick runs one fetch, update, deliver, persist cycle. Only a fetch failure (or a failed
// advisory lock query) is returned as an error; delivery and persistence failures are reported
// in the BatchResult and the tick still completes.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) (BatchResult, error) {
	result := BatchResult{TickID: uuid.NewString(), Tick: tick, Stage: StageTriggered}
	logger := s.logger.With().Str("tick_id", result.TickID).Time("tick", tick).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return result, err
	}
	if !proceed {
		logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		result.Skipped = true
		return result, nil
	}
	if unlock != nil {
		defer unlock()
	}

	result.Stage = StageFetching
	current, err := s.store.FetchQuotes(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	result.Stage = StageUpdating
	batch := s.updater.Update(current, s.now())
	result.Quotes = batch.Quotes
	result.Excluded = batch.Excluded
	for _, miss := range batch.Excluded {
		logger.Warn().Str("quote_id", miss.QuoteID).Str("symbol", miss.Symbol).Msg("no price rule for symbol; quote excluded from batch")
	}

	result.Stage = StageDelivering
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.Delivery = delivery.Result{Count: len(batch.Quotes), Err: fmt.Errorf("%w: %w", delivery.ErrDeliveryFailed, ctxErr)}
		logger.Warn().Err(ctxErr).Msg("tick cancelled before delivery; persisting computed prices only")
	} else if s.sink != nil {
		result.Delivery = s.sink.Deliver(ctx, batch.Quotes)
	}
	if result.Delivery.Err != nil {
		logger.Error().Err(result.Delivery.Err).Int("status", result.Delivery.StatusCode).Msg("failure sending quote batch to sink")
	}

	result.PersistErr = s.persist(ctx, batch.Quotes)
	if result.PersistErr != nil {
		logger.Error().Err(result.PersistErr).Int("quotes", len(batch.Quotes)).Msg("failed to persist quote batch")
	}

	result.Stage = StageCompleted
	logger.Info().
		Int("fetched", len(current)).
		Int("updated", len(batch.Quotes)).
		Int("excluded", len(batch.Excluded)).
		Bool("delivered", result.Delivery.OK()).
		Bool("persisted", result.PersistErr == nil).
		Msg("tick completed")

	return result, nil
}

// persist outlives a cancelled tick context so computed prices are not silently lost.
func (s *Service) persist(ctx context.Context, quotes []quote.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.store.PutQuotes(persistCtx, quotes); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
