package pricing

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stockfeed/internal/quote"
)

// RuleMiss identifies a quote that was left out of a batch because its symbol has no rule.
type RuleMiss struct {
	QuoteID string
	Symbol  string
}

func (m RuleMiss) Error() string {
	return fmt.Sprintf("%s: quote %q symbol %q", ErrRuleNotFound, m.QuoteID, m.Symbol)
}

func (m RuleMiss) Unwrap() error { return ErrRuleNotFound }

// Batch is the outcome of one update pass.
type Batch struct {
	Quotes     []quote.Quote
	Excluded   []RuleMiss
	CapturedAt time.Time
}

// Updater applies the random walk to every quote of a batch.
type Updater struct {
	rules  *RuleTable
	src    RandomSource
	logger zerolog.Logger
}

// NewUpdater binds a rule table and random source. A nil source falls back to the global generator.
func NewUpdater(rules *RuleTable, src RandomSource, logger zerolog.Logger) *Updater {
	if src == nil {
		src = NewRandomSource(0)
	}
	return &Updater{
		rules:  rules,
		src:    src,
		logger: logger.With().Str("component", "price_updater").Logger(),
	}
}

// Update returns new quote values in input order, all stamped with now at millisecond precision. Quotes without a rule
// are excluded and reported in Batch.Excluded; the input slice is never modified.
func (u *Updater) Update(quotes []quote.Quote, now time.Time) Batch {
	now = now.UTC().Truncate(time.Millisecond)
	batch := Batch{
		Quotes:     make([]quote.Quote, 0, len(quotes)),
		CapturedAt: now,
	}

	for _, q := range quotes {
		rule, ok := u.rules.Lookup(q.Symbol)
		if !ok {
			batch.Excluded = append(batch.Excluded, RuleMiss{QuoteID: q.ID, Symbol: q.Symbol})
			continue
		}

		price := NextPrice(q.Price, rule, u.src)
		u.logger.Debug().Str("symbol", q.Symbol).Str("price", price.StringFixed(pricePlaces)).Msg("price generated")

		batch.Quotes = append(batch.Quotes, q.WithPrice(price, now, rule.Range()))
	}

	return batch
}
