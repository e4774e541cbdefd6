package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockfeed/internal/quote"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listQuotesSQL = `SELECT
        id,
        symbol,
        price,
        price_ts,
        price_range
    FROM quotes
    ORDER BY id;`

	upsertQuoteSQL = `INSERT INTO quotes (
        id,
        symbol,
        price,
        price_ts,
        price_range,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,now()
    )
    ON CONFLICT (id) DO UPDATE
    SET
        symbol      = EXCLUDED.symbol,
        price       = EXCLUDED.price,
        price_ts    = EXCLUDED.price_ts,
        price_range = EXCLUDED.price_range,
        updated_at  = EXCLUDED.updated_at;`

	insertHistorySQL = `INSERT INTO quote_history (
        quote_id,
        symbol,
        price,
        price_ts,
        price_range
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listHistorySQL = `SELECT
        quote_id,
        symbol,
        price,
        price_ts,
        price_range
    FROM quote_history
    WHERE symbol = $1
      AND price_ts >= $2
      AND price_ts < $3
    ORDER BY price_ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store persists quotes and their price history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// FetchQuotes lists the current quotes ordered by id.
func (s *Store) FetchQuotes(ctx context.Context) ([]quote.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listQuotesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list quotes: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]quote.Quote, 0)
	for rows.Next() {
		q, scanErr := scanQuote(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, q)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// PutQuotes upserts the batch by id and appends stamped quotes to the price history, atomically.
func (s *Store) PutQuotes(ctx context.Context, quotes []quote.Quote) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin quote upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, q := range quotes {
		price := q.Price.StringFixed(quote.PricePlaces)

		var ts interface{}
		if !q.Timestamp.IsZero() {
			ts = q.Timestamp.UTC()
		}

		batch.Queue(upsertQuoteSQL, q.ID, q.Symbol, price, ts, q.Range)
		if ts != nil {
			batch.Queue(insertHistorySQL, q.ID, q.Symbol, price, ts, q.Range)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert quotes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit quote upsert: %w", err)
	}
	return nil
}

// ListHistory lists a symbol's price observations within [from, to).
func (s *Store) ListHistory(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var (
			point    PricePoint
			priceStr string
		)
		if err := rows.Scan(&point.QuoteID, &point.Symbol, &priceStr, &point.Timestamp, &point.Range); err != nil {
			return nil, err
		}
		point.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse history price: %w", err)
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

func scanQuote(rows pgx.Rows) (quote.Quote, error) {
	var (
		id       string
		symbol   string
		priceStr string
		ts       sql.NullTime
		rng      string
	)
	if err := rows.Scan(&id, &symbol, &priceStr, &ts, &rng); err != nil {
		return quote.Quote{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return quote.Quote{}, fmt.Errorf("parse price of quote %s: %w", id, err)
	}

	q := quote.Quote{ID: id, Symbol: symbol, Price: price, Range: rng}
	if ts.Valid {
		q.Timestamp = ts.Time.UTC()
	}
	return q, nil
}

var (
	_ QuoteStore     = (*Store)(nil)
	_ HistoryStore   = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
