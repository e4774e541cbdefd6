package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stockfeed/internal/quote"
)

// QuoteStore supplies the current quotes for a tick and accepts the updated batch.
type QuoteStore interface {
	FetchQuotes(ctx context.Context) ([]quote.Quote, error)
	PutQuotes(ctx context.Context, quotes []quote.Quote) error
}

// HistoryStore exposes the per-tick price trail.
type HistoryStore interface {
	ListHistory(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// PricePoint is one persisted price observation of a quote.
type PricePoint struct {
	QuoteID   string
	Symbol    string
	Price     decimal.Decimal
	Range     string
	Timestamp time.Time
}
