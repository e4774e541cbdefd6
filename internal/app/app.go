package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"stockfeed/internal/config"
	"stockfeed/internal/delivery"
	"stockfeed/internal/pricing"
	"stockfeed/internal/queue"
	"stockfeed/internal/quote"
	"stockfeed/internal/scheduler"
	"stockfeed/internal/service"
	"stockfeed/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// stores groups the backends opened for the configured driver. history is nil when the
// driver keeps no price trail.
type stores struct {
	quotes  storage.QuoteStore
	history storage.HistoryStore
	close   func()
}

func (a *App) openStore(ctx context.Context) (stores, error) {
	switch a.Config.Storage.Driver {
	case config.DriverPostgres:
		pgPool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return stores{}, err
		}
		store := storage.NewStore(pgPool)
		return stores{quotes: store, history: store, close: store.Close}, nil

	case config.DriverRedis:
		client, err := storage.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			return stores{}, err
		}
		store := storage.NewRedisStore(client, storage.RedisOptions{
			KeyPrefix: a.Config.Redis.KeyPrefix,
			Channel:   a.Config.Redis.Channel,
		})
		return stores{quotes: store, close: func() {
			if err := store.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close redis client")
			}
		}}, nil

	default:
		rules, err := a.ruleTable()
		if err != nil {
			return stores{}, err
		}
		a.Logger.Warn().Msg("storage.driver is memory; quotes are seeded from the rule table and lost on exit")
		return stores{quotes: storage.NewMemoryStore(seedQuotes(rules)...), close: func() {}}, nil
	}
}

func (a *App) ruleTable() (*pricing.RuleTable, error) {
	rules := make([]pricing.PriceRule, 0, len(a.Config.Pricing.Rules))
	for _, r := range a.Config.Pricing.Rules {
		rules = append(rules, pricing.PriceRule{
			Symbol:       r.Symbol,
			MinPrice:     r.MinPrice,
			MaxPrice:     r.MaxPrice,
			InitialPrice: r.InitialPrice,
		})
	}
	table, err := pricing.NewRuleTable(rules)
	if err != nil {
		return nil, fmt.Errorf("load price rules: %w", err)
	}
	return table, nil
}

// seedQuotes builds one quote per rule, keyed by symbol, at the rule's starting price.
func seedQuotes(rules *pricing.RuleTable) []quote.Quote {
	all := rules.Rules()
	quotes := make([]quote.Quote, 0, len(all))
	for _, rule := range all {
		quotes = append(quotes, quote.Quote{
			ID:     rule.Symbol,
			Symbol: rule.Symbol,
			Price:  rule.SeedPrice(),
			Range:  rule.Range(),
		})
	}
	return quotes
}

// newSink returns nil when no endpoint is configured so ticks skip delivery entirely.
func (a *App) newSink() delivery.Sink {
	if a.Config.Delivery.Endpoint == "" {
		return nil
	}
	return delivery.NewClient(delivery.Options{
		Endpoint:  a.Config.Delivery.Endpoint,
		Timeout:   a.Config.Delivery.Timeout,
		UserAgent: a.Config.Delivery.UserAgent,
	}, a.Logger)
}

func (a *App) newService(sched *scheduler.Scheduler, store storage.QuoteStore, sink delivery.Sink, seed uint64, now func() time.Time) (*service.Service, error) {
	rules, err := a.ruleTable()
	if err != nil {
		return nil, err
	}
	updater := pricing.NewUpdater(rules, pricing.NewRandomSource(seed), a.Logger)
	return service.New(service.Options{
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
		PersistTimeout:  a.Config.Scheduler.PersistTimeout,
		Now:             now,
	}, sched, store, updater, sink, a.Logger), nil
}

func (a *App) newConsumer() *queue.Consumer {
	reader := queue.NewReader(queue.Options{
		Brokers: a.Config.Queue.Brokers,
		Topic:   a.Config.Queue.Topic,
		GroupID: a.Config.Queue.GroupID,
		MaxWait: a.Config.Queue.MaxWait,
	})
	return queue.NewConsumer(reader, a.Logger)
}

// Run executes the long-running feed, plus the queue consumer when enabled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	sink := a.newSink()
	if sink == nil {
		a.Logger.Warn().Msg("delivery.endpoint not configured; batches are persisted but not delivered")
	}

	svc, err := a.newService(sched, st.quotes, sink, a.Config.Pricing.Seed, nil)
	if err != nil {
		return err
	}

	workers := pool.New().WithContext(ctx).WithCancelOnError()
	workers.Go(svc.Run)
	if a.Config.Queue.Enabled {
		consumer := a.newConsumer()
		defer func() {
			if err := consumer.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close queue reader")
			}
		}()
		workers.Go(consumer.Run)
	}

	a.Logger.Info().
		Str("driver", a.Config.Storage.Driver).
		Dur("interval", a.Config.Scheduler.Interval).
		Bool("queue", a.Config.Queue.Enabled).
		Msg("starting stock feed")
	err = workers.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("stock feed terminated with error")
		return err
	}

	a.Logger.Info().Msg("stock feed stopped")
	return nil
}

// RunTick executes one tick immediately against the configured store.
func (a *App) RunTick(ctx context.Context) (service.BatchResult, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return service.BatchResult{}, err
	}
	defer st.close()

	svc, err := a.newService(nil, st.quotes, a.newSink(), a.Config.Pricing.Seed, nil)
	if err != nil {
		return service.BatchResult{}, err
	}

	result, err := svc.ProcessTick(ctx, time.Now().UTC())
	if err != nil {
		return result, err
	}
	a.printBatch(result)
	return result, nil
}

// Consume runs only the queue pass-through consumer.
func (a *App) Consume(ctx context.Context) error {
	if len(a.Config.Queue.Brokers) == 0 || a.Config.Queue.Topic == "" || a.Config.Queue.GroupID == "" {
		return errors.New("queue.brokers, queue.topic and queue.group_id must be configured")
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	consumer := a.newConsumer()
	defer func() {
		if err := consumer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close queue reader")
		}
	}()
	return consumer.Run(ctx)
}

// Migrate applies the SQL scripts under database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Storage.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations apply to the postgres driver only, storage.driver is %q", a.Config.Storage.Driver)
	}
	pgPool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	store := storage.NewStore(pgPool)
	defer store.Close()

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	return err
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
}

// SeedOptions configure the seed command.
type SeedOptions struct {
	Overwrite bool
}

// SimulateOptions configure an offline run of repeated ticks.
type SimulateOptions struct {
	Ticks    int
	Interval time.Duration
	Seed     uint64
	Deliver  bool
	Symbol   string
	CSVPath  string
	PNGPath  string
}
