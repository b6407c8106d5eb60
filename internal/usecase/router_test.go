package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"TradePilot/internal/domain/models"
	"TradePilot/internal/service/ratelimit"
)

func routerFixture(t *testing.T, cfg RouterConfig, venues []string) (*OrderRouter, *memQuotes, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	quotes := newMemQuotes()
	market := NewMarketView(quotes, venues, 5*time.Second, fixedClock{t: now})
	r := NewOrderRouter(cfg, market, ratelimit.New(), nopMetrics{}, testLogger())
	return r, quotes, now
}

func approvedDecision(size float64) *models.RiskDecision {
	return &models.RiskDecision{
		FusedSignal:     fusedBuy(0.8),
		AccountID:       "acct-1",
		Outcome:         models.OutcomeApproved,
		RecommendedSize: size,
		EvaluatedAt:     time.Now(),
	}
}

func TestRouteSplitsByDepthBestPriceFirst(t *testing.T) {
	r, quotes, now := routerFixture(t, RouterConfig{}, []string{"alpha", "beta"})
	// beta is cheaper for a buy after fees
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "alpha", Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100,
		Depth: 6, FeeRate: 0.001, AsOf: now,
	})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "beta", Symbol: "BTCUSDT", Bid: 99, Ask: 100, Last: 100,
		Depth: 6, FeeRate: 0.001, AsOf: now,
	})

	res, err := r.Route(context.Background(), approvedDecision(10))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(res.Requests) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(res.Requests))
	}
	if res.Requests[0].Venue != "beta" || res.Requests[0].Quantity != 6 {
		t.Fatalf("first slice %+v", res.Requests[0])
	}
	if res.Requests[1].Venue != "alpha" || res.Requests[1].Quantity != 4 {
		t.Fatalf("second slice %+v", res.Requests[1])
	}
	if res.InsufficientLiquidity || res.Unplaced != 0 {
		t.Fatalf("unexpected shortfall: %+v", res)
	}
}

func TestRouteSharedClientRefRoot(t *testing.T) {
	r, quotes, now := routerFixture(t, RouterConfig{}, []string{"alpha", "beta"})
	for _, v := range []string{"alpha", "beta"} {
		_ = quotes.Put(context.Background(), &models.Quote{
			Venue: v, Symbol: "BTCUSDT", Bid: 99, Ask: 100, Last: 100,
			Depth: 5, FeeRate: 0.001, AsOf: now,
		})
	}

	res, err := r.Route(context.Background(), approvedDecision(10))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(res.Requests) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(res.Requests))
	}
	root0 := res.Requests[0].ClientRef[:strings.LastIndex(res.Requests[0].ClientRef, "-")]
	root1 := res.Requests[1].ClientRef[:strings.LastIndex(res.Requests[1].ClientRef, "-")]
	if root0 != root1 {
		t.Fatalf("slices must share a client_ref root: %s vs %s", res.Requests[0].ClientRef, res.Requests[1].ClientRef)
	}
	if res.Requests[0].ClientRef == res.Requests[1].ClientRef {
		t.Fatalf("slices must have distinct client refs")
	}
}

func TestRouteFlagsInsufficientLiquidity(t *testing.T) {
	r, quotes, now := routerFixture(t, RouterConfig{}, []string{"alpha"})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "alpha", Symbol: "BTCUSDT", Bid: 99, Ask: 100, Last: 100,
		Depth: 3, FeeRate: 0.001, AsOf: now,
	})

	res, err := r.Route(context.Background(), approvedDecision(10))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !res.InsufficientLiquidity {
		t.Fatalf("expected liquidity flag")
	}
	if res.Placed != 3 || res.Unplaced != 7 {
		t.Fatalf("placed %v unplaced %v", res.Placed, res.Unplaced)
	}
}

func TestRouteSkipsTinySlices(t *testing.T) {
	r, quotes, now := routerFixture(t, RouterConfig{MinSliceQuantity: 1}, []string{"alpha", "beta"})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "alpha", Symbol: "BTCUSDT", Bid: 99, Ask: 100, Last: 100,
		Depth: 9.5, FeeRate: 0.001, AsOf: now,
	})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "beta", Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100,
		Depth: 10, FeeRate: 0.001, AsOf: now,
	})

	res, err := r.Route(context.Background(), approvedDecision(10))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	// remainder of 0.5 on beta is below the minimum slice
	if len(res.Requests) != 1 || res.Requests[0].Venue != "alpha" {
		t.Fatalf("requests %+v", res.Requests)
	}
	if !res.InsufficientLiquidity {
		t.Fatalf("skipped remainder must flag the shortfall")
	}
}

func TestRouteSlippageToleranceCutsOffWorseVenues(t *testing.T) {
	r, quotes, now := routerFixture(t, RouterConfig{SlippageTolerance: 0.005}, []string{"alpha", "beta"})
	// alpha is ~1% worse than beta after fees, outside the 0.5% tolerance
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "alpha", Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100,
		Depth: 6, FeeRate: 0.001, AsOf: now,
	})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "beta", Symbol: "BTCUSDT", Bid: 99, Ask: 100, Last: 100,
		Depth: 6, FeeRate: 0.001, AsOf: now,
	})

	res, err := r.Route(context.Background(), approvedDecision(10))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(res.Requests) != 1 || res.Requests[0].Venue != "beta" {
		t.Fatalf("requests %+v, want beta only", res.Requests)
	}
	// the shortfall is reported rather than filled at a worse price
	if !res.InsufficientLiquidity || res.Unplaced != 4 {
		t.Fatalf("placed %v unplaced %v flagged %v", res.Placed, res.Unplaced, res.InsufficientLiquidity)
	}
}

func TestRouteRateLimitedVenueSkipped(t *testing.T) {
	r, quotes, now := routerFixture(t, RouterConfig{VenueRateCapacity: 1, VenueRateRefill: 0.0001}, []string{"alpha", "beta"})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "alpha", Symbol: "BTCUSDT", Bid: 99, Ask: 100, Last: 100,
		Depth: 100, FeeRate: 0.001, AsOf: now,
	})
	_ = quotes.Put(context.Background(), &models.Quote{
		Venue: "beta", Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100,
		Depth: 100, FeeRate: 0.001, AsOf: now,
	})

	// first route drains alpha's single token
	if _, err := r.Route(context.Background(), approvedDecision(5)); err != nil {
		t.Fatalf("route: %v", err)
	}
	res, err := r.Route(context.Background(), approvedDecision(5))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(res.Requests) != 1 || res.Requests[0].Venue != "beta" {
		t.Fatalf("expected fallback to beta, got %+v", res.Requests)
	}
}

func TestRouteUnapprovedDecision(t *testing.T) {
	r, _, _ := routerFixture(t, RouterConfig{}, []string{"alpha"})
	d := approvedDecision(5)
	d.Outcome = models.OutcomeRejected
	if _, err := r.Route(context.Background(), d); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
