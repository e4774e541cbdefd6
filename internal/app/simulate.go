package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"stockfeed/internal/delivery"
	"stockfeed/internal/pricing"
	"stockfeed/internal/quote"
	"stockfeed/internal/storage"
)

// symbolStats tracks one symbol's walk over a simulation. outside counts ticks that ended
// beyond the corridor, which the soft nudge allows.
type symbolStats struct {
	symbol  string
	start   decimal.Decimal
	last    decimal.Decimal
	low     decimal.Decimal
	high    decimal.Decimal
	rng     string
	outside int
}

// Simulate runs repeated ticks against a fresh in-memory store seeded from the rule table.
// Tick timestamps advance by the interval without waiting for wall-clock time.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Ticks <= 0 {
		return errors.New("ticks must be greater than zero")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = a.Config.Scheduler.Interval
	}
	seed := opts.Seed
	if seed == 0 {
		seed = a.Config.Pricing.Seed
	}

	rules, err := a.ruleTable()
	if err != nil {
		return err
	}
	seeded := seedQuotes(rules)
	store := storage.NewMemoryStore(seeded...)

	var sink delivery.Sink
	if opts.Deliver {
		if sink = a.newSink(); sink == nil {
			return errors.New("delivery requested but delivery.endpoint is not configured")
		}
	}

	start := time.Now().UTC().Truncate(interval)
	current := start
	svc, err := a.newService(nil, store, sink, seed, func() time.Time { return current })
	if err != nil {
		return err
	}

	stats := make(map[string]*symbolStats, len(seeded))
	order := make([]string, 0, len(seeded))
	for _, q := range seeded {
		stats[q.Symbol] = &symbolStats{symbol: q.Symbol, start: q.Price, last: q.Price, low: q.Price, high: q.Price, rng: q.Range}
		order = append(order, q.Symbol)
	}

	trail := make([]storage.PricePoint, 0, opts.Ticks*len(seeded))
	failedDeliveries := 0
	for i := 0; i < opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		current = start.Add(time.Duration(i) * interval)

		result, err := svc.ProcessTick(ctx, current)
		if err != nil {
			return err
		}
		if opts.Deliver && !result.Delivery.OK() {
			failedDeliveries++
		}
		for _, q := range result.Quotes {
			trail = append(trail, pricePoint(q))
			if s, ok := stats[q.Symbol]; ok {
				s.observe(q.Price, rules)
			}
		}
	}

	a.Logger.Info().
		Int("ticks", opts.Ticks).
		Uint64("seed", seed).
		Int("points", len(trail)).
		Int("failed_deliveries", failedDeliveries).
		Msg("simulation finished")

	a.printStats(order, stats)

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, trail); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		symbol := opts.Symbol
		if symbol == "" && len(order) > 0 {
			symbol = order[0]
		}
		rule, _ := rules.Lookup(symbol)
		if err := writeHistoryPNG(opts.PNGPath, symbol, filterPoints(trail, symbol), rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *symbolStats) observe(price decimal.Decimal, rules *pricing.RuleTable) {
	s.last = price
	if price.LessThan(s.low) {
		s.low = price
	}
	if price.GreaterThan(s.high) {
		s.high = price
	}
	if rule, ok := rules.Lookup(s.symbol); ok {
		if price.LessThan(rule.MinPrice) || price.GreaterThan(rule.MaxPrice) {
			s.outside++
		}
	}
}

func (a *App) printStats(order []string, stats map[string]*symbolStats) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tStart\tLast\tLow\tHigh\tRange\tOutside")
	for _, symbol := range order {
		s := stats[symbol]
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			s.symbol,
			s.start.StringFixed(quote.PricePlaces),
			s.last.StringFixed(quote.PricePlaces),
			s.low.StringFixed(quote.PricePlaces),
			s.high.StringFixed(quote.PricePlaces),
			s.rng,
			s.outside,
		)
	}
	writer.Flush()
}

func pricePoint(q quote.Quote) storage.PricePoint {
	return storage.PricePoint{
		QuoteID:   q.ID,
		Symbol:    q.Symbol,
		Price:     q.Price,
		Range:     q.Range,
		Timestamp: q.Timestamp,
	}
}

func filterPoints(points []storage.PricePoint, symbol string) []storage.PricePoint {
	filtered := make([]storage.PricePoint, 0, len(points))
	for _, p := range points {
		if p.Symbol == symbol {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
