package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	headerMessageID   = "message-id"
	headerContentType = "content-type"
	maxLoggedBody     = 2048
	fetchRetryDelay   = time.Second
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configure the underlying kafka reader.
type Options struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// NewReader builds a consumer-group reader with explicit commits.
func NewReader(opts Options) *kafka.Reader {
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     opts.Brokers,
		Topic:       opts.Topic,
		GroupID:     opts.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     maxWait,
		StartOffset: kafka.LastOffset,
	})
}

// Consumer receives queue messages, logs them and acknowledges them unchanged.
type Consumer struct {
	reader    Reader
	logger    zerolog.Logger
	retry     time.Duration
	committed atomic.Int64
}

// NewConsumer wraps a reader.
func NewConsumer(reader Reader, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: logger.With().Str("component", "queue_consumer").Logger(),
		retry:  fetchRetryDelay,
	}
}

// Committed reports how many messages have been acknowledged.
func (c *Consumer) Committed() int64 {
	return c.committed.Load()
}

// Run consumes until ctx is cancelled. Fetch and commit errors are logged and the loop continues.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("starting queue consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("queue consumer stopped")
				return nil
			}
			c.logger.Error().Err(err).Msg("failed to fetch queue message")
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		c.handle(msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error().Err(err).Str("message_id", MessageID(msg)).Msg("failed to acknowledge queue message")
			continue
		}
		c.committed.Add(1)
	}
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(msg kafka.Message) {
	body := string(msg.Value)
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody] + "..."
	}
	c.logger.Info().
		Str("message_id", MessageID(msg)).
		Str("content_type", header(msg, headerContentType)).
		Str("body", body).
		Str("topic", msg.Topic).
		Msg("queue message received")
}

func (c *Consumer) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.retry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// MessageID prefers an explicit message-id header and falls back to partition/offset.
func MessageID(msg kafka.Message) string {
	if id := header(msg, headerMessageID); id != "" {
		return id
	}
	return fmt.Sprintf("%d/%d", msg.Partition, msg.Offset)
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}
