package quote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the wire format for quote timestamps: UTC, millisecond precision, Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// PricePlaces is the display precision of quote prices.
const PricePlaces = 2

// Quote is a single stock's observable state. Values are treated as immutable once built.
type Quote struct {
	ID        string
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
	Range     string
}

// WithPrice returns a copy of q carrying the freshly computed price, timestamp and range.
func (q Quote) WithPrice(price decimal.Decimal, ts time.Time, rng string) Quote {
	q.Price = price
	q.Timestamp = ts.UTC()
	q.Range = rng
	return q
}

// FormatTimestamp renders t in the feed's wire layout. The zero time renders as an empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the wire layout (including single-digit hours written by older
// producers) and RFC3339.
func ParseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(TimestampLayout, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse quote timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

type wireQuote struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Price     json.Number `json:"price"`
	Timestamp string      `json:"timestamp"`
	Range     string      `json:"range"`
}

// MarshalJSON encodes the quote with a fixed two-decimal price and a millisecond UTC timestamp.
func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireQuote{
		ID:        q.ID,
		Symbol:    q.Symbol,
		Price:     json.Number(q.Price.StringFixed(PricePlaces)),
		Timestamp: FormatTimestamp(q.Timestamp),
		Range:     q.Range,
	})
}

// UnmarshalJSON accepts price as a JSON number or string.
func (q *Quote) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Symbol    string          `json:"symbol"`
		Price     json.RawMessage `json:"price"`
		Timestamp string          `json:"timestamp"`
		Range     string          `json:"range"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	price := decimal.Zero
	if len(raw.Price) > 0 && string(raw.Price) != "null" {
		if err := price.UnmarshalJSON(raw.Price); err != nil {
			return fmt.Errorf("decode price for quote %q: %w", raw.ID, err)
		}
	}

	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}

	*q = Quote{
		ID:        raw.ID,
		Symbol:    raw.Symbol,
		Price:     price,
		Timestamp: ts,
		Range:     raw.Range,
	}
	return nil
}
