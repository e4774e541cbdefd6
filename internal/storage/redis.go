package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockfeed/internal/quote"
)

const (
	defaultKeyPrefix = "stockfeed:"
	quoteKeyPart     = "quote:"
	indexKeyPart     = "quotes"
)

// RedisOptions tune key layout and change notifications.
type RedisOptions struct {
	KeyPrefix string
	// Channel receives the full updated batch after every write when non-empty.
	Channel string
}

// RedisStore keeps each quote as a JSON document keyed by id, plus a sorted id index.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	channel string
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, channel: opts.Channel}
}

func (r *RedisStore) quoteKey(id string) string {
	return r.prefix + quoteKeyPart + id
}

func (r *RedisStore) indexKey() string {
	return r.prefix + indexKeyPart
}

// FetchQuotes reads the index in lexical id order and loads every quote with a single MGET.
func (r *RedisStore) FetchQuotes(ctx context.Context) ([]quote.Quote, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read quote index: %w", err)
	}
	if len(ids) == 0 {
		return []quote.Quote{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.quoteKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load quotes: %w", err)
	}
	return decodeSnapshots(values)
}

// PutQuotes writes every quote and its index entry in one MULTI/EXEC, then publishes the batch.
func (r *RedisStore) PutQuotes(ctx context.Context, quotes []quote.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	payloads := make([][]byte, len(quotes))
	for i, q := range quotes {
		payload, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode quote %s: %w", q.ID, err)
		}
		payloads[i] = payload
	}

	var batchPayload []byte
	if r.channel != "" {
		var err error
		if batchPayload, err = json.Marshal(quotes); err != nil {
			return fmt.Errorf("encode quote batch: %w", err)
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, q := range quotes {
			pipe.Set(ctx, r.quoteKey(q.ID), payloads[i], 0)
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: 0, Member: q.ID})
		}
		if batchPayload != nil {
			pipe.Publish(ctx, r.channel, batchPayload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write quotes: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// decodeSnapshots skips index entries whose document has disappeared.
func decodeSnapshots(values []interface{}) ([]quote.Quote, error) {
	quotes := make([]quote.Quote, 0, len(values))
	for _, val := range values {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var q quote.Quote
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

var _ QuoteStore = (*RedisStore)(nil)
