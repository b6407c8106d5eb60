package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/cache"
)

// QuoteCache keeps the most recent quote per (venue, symbol) in the
// shared cache with a short TTL; the staleness tolerance lives in the
// market view, the TTL just bounds garbage.
type QuoteCache struct {
	cache cache.Service
	ttl   time.Duration
}

// NewQuoteCache creates a quote cache. ttl defaults to one minute.
func NewQuoteCache(c cache.Service, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &QuoteCache{cache: c, ttl: ttl}
}

func quoteKey(venue, symbol string) string {
	return fmt.Sprintf("quote:%s:%s", venue, symbol)
}

// Get returns the cached quote, false on miss.
func (q *QuoteCache) Get(ctx context.Context, venue, symbol string) (*models.Quote, bool) {
	var out models.Quote
	if err := q.cache.Get(ctx, quoteKey(venue, symbol), &out); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			return nil, false
		}
		return nil, false
	}
	return &out, true
}

// Put stores the quote under its venue/symbol key.
func (q *QuoteCache) Put(ctx context.Context, quote *models.Quote) error {
	if err := q.cache.Set(ctx, quoteKey(quote.Venue, quote.Symbol), quote, q.ttl); err != nil {
		return fmt.Errorf("cache quote %s/%s: %w", quote.Venue, quote.Symbol, err)
	}
	return nil
}

var _ drepo.QuoteCache = (*QuoteCache)(nil)
