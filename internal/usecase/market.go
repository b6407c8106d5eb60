package usecase

import (
	"context"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
)

// MarketView reads most-recent cached quotes across configured venues.
// It never blocks on a live quote; staleness is tolerated up to maxAge.
type MarketView struct {
	quotes drepo.QuoteCache
	venues []string
	maxAge time.Duration
	clock  drepo.Clock
}

// NewMarketView creates a view over the quote cache for the given venues.
func NewMarketView(quotes drepo.QuoteCache, venues []string, maxAge time.Duration, clock drepo.Clock) *MarketView {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	if clock == nil {
		clock = drepo.SystemClock{}
	}
	return &MarketView{quotes: quotes, venues: venues, maxAge: maxAge, clock: clock}
}

// Fresh returns the non-stale quotes for symbol in configured venue order.
func (m *MarketView) Fresh(ctx context.Context, symbol string) []*models.Quote {
	now := m.clock.Now()
	var out []*models.Quote
	for _, v := range m.venues {
		q, ok := m.quotes.Get(ctx, v, symbol)
		if !ok {
			continue
		}
		if now.Sub(q.AsOf) > m.maxAge {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Best returns the quote with the best effective price for the side,
// preferring earlier-configured venues on ties.
func (m *MarketView) Best(ctx context.Context, symbol string, side models.OrderSide) (*models.Quote, bool) {
	var best *models.Quote
	for _, q := range m.Fresh(ctx, symbol) {
		if best == nil {
			best = q
			continue
		}
		ep, bp := q.EffectivePrice(side), best.EffectivePrice(side)
		if (side == models.SideBuy && ep < bp) || (side == models.SideSell && ep > bp) {
			best = q
		}
	}
	return best, best != nil
}

// LastPrice returns the freshest last-trade price across venues.
func (m *MarketView) LastPrice(ctx context.Context, symbol string) (float64, bool) {
	var (
		last  float64
		asOf  time.Time
		found bool
	)
	for _, q := range m.Fresh(ctx, symbol) {
		if q.Last > 0 && q.AsOf.After(asOf) {
			last, asOf, found = q.Last, q.AsOf, true
		}
	}
	return last, found
}

// RecentVolume returns the largest 24h traded volume seen for symbol,
// used by the liquidity check against thin markets.
func (m *MarketView) RecentVolume(ctx context.Context, symbol string) float64 {
	var vol float64
	for _, q := range m.Fresh(ctx, symbol) {
		if q.Volume24h > vol {
			vol = q.Volume24h
		}
	}
	return vol
}
