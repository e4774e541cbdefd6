package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stockfeed/internal/quote"
)

const contentType = "application/json; charset=utf-8"

// ErrDeliveryFailed wraps every failed delivery attempt.
var ErrDeliveryFailed = errors.New("delivery failed")

// Result reports the outcome of a single delivery attempt.
type Result struct {
	Delivered  bool
	StatusCode int
	Count      int
	Err        error
}

// OK reports whether the sink accepted the batch.
func (r Result) OK() bool { return r.Delivered && r.Err == nil }

func failed(status, count int, err error) Result {
	return Result{StatusCode: status, Count: count, Err: fmt.Errorf("%w: %w", ErrDeliveryFailed, err)}
}

// Sink accepts updated quote batches.
type Sink interface {
	Deliver(ctx context.Context, quotes []quote.Quote) Result
}

// Options parameterise the HTTP delivery client.
type Options struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// Client posts quote batches to the notification endpoint.
type Client struct {
	endpoint  string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// NewClient constructs a delivery client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:  strings.TrimSpace(opts.Endpoint),
		userAgent: strings.TrimSpace(opts.UserAgent),
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "delivery").Logger(),
	}
}

// Deliver sends the batch as a single JSON array. Every failure mode, including a non-2xx
// status, is folded into the returned Result; the call makes exactly one attempt.
func (c *Client) Deliver(ctx context.Context, quotes []quote.Quote) (res Result) {
	defer func() {
		if res.Err != nil {
			c.logger.Error().Err(res.Err).Int("status", res.StatusCode).Int("quotes", len(quotes)).Msg("failed to deliver quote batch")
		}
	}()

	if c.endpoint == "" {
		return failed(0, len(quotes), errors.New("endpoint not configured"))
	}

	if quotes == nil {
		quotes = []quote.Quote{}
	}
	body, err := json.Marshal(quotes)
	if err != nil {
		return failed(0, len(quotes), fmt.Errorf("marshal quotes: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed(0, len(quotes), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failed(0, len(quotes), fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failed(resp.StatusCode, len(quotes), fmt.Errorf("sink responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	c.logger.Info().Int("status", resp.StatusCode).Int("quotes", len(quotes)).Msg("quote batch delivered")
	return Result{Delivered: true, StatusCode: resp.StatusCode, Count: len(quotes)}
}

var _ Sink = (*Client)(nil)
