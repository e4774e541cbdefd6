package storage

import (
	"context"
	"sync"

	"stockfeed/internal/quote"
)

// MemoryStore is a process-local QuoteStore. Quotes keep their first insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]quote.Quote
}

// NewMemoryStore creates a store holding the given quotes.
func NewMemoryStore(seed ...quote.Quote) *MemoryStore {
	m := &MemoryStore{byID: make(map[string]quote.Quote, len(seed))}
	m.upsert(seed)
	return m
}

// FetchQuotes returns a snapshot copy of the stored quotes.
func (m *MemoryStore) FetchQuotes(ctx context.Context) ([]quote.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	quotes := make([]quote.Quote, 0, len(m.order))
	for _, id := range m.order {
		quotes = append(quotes, m.byID[id])
	}
	return quotes, nil
}

// PutQuotes upserts by id.
func (m *MemoryStore) PutQuotes(ctx context.Context, quotes []quote.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsert(quotes)
	return nil
}

func (m *MemoryStore) upsert(quotes []quote.Quote) {
	for _, q := range quotes {
		if _, ok := m.byID[q.ID]; !ok {
			m.order = append(m.order, q.ID)
		}
		m.byID[q.ID] = q
	}
}

var _ QuoteStore = (*MemoryStore)(nil)
