package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/internal/service/ratelimit"
	"TradePilot/pkg/logger"
)

// RouterConfig holds routing parameters.
type RouterConfig struct {
	SlippageTolerance float64 // max effective-price deviation from the best venue, 0 disables
	MinSliceQuantity  float64 // slices below this are not worth placing
	VenueRateCapacity float64 // token bucket capacity per venue
	VenueRateRefill   float64 // tokens per second per venue
}

// OrderRouter turns an approved decision into one or more order
// requests across venues, selecting by effective price after fees from
// most-recent cached quotes. It never silently drops size: any
// unplaced remainder is flagged in the result for the caller's policy.
type OrderRouter struct {
	cfg     RouterConfig
	market  *MarketView
	limiter *ratelimit.Limiter
	metrics drepo.Metrics
	logger  *logger.Logger
}

// NewOrderRouter creates a router.
func NewOrderRouter(cfg RouterConfig, market *MarketView, limiter *ratelimit.Limiter, metrics drepo.Metrics, lgr *logger.Logger) *OrderRouter {
	if cfg.VenueRateCapacity <= 0 {
		cfg.VenueRateCapacity = 10
	}
	if cfg.VenueRateRefill <= 0 {
		cfg.VenueRateRefill = 5
	}
	return &OrderRouter{cfg: cfg, market: market, limiter: limiter, metrics: metrics, logger: lgr}
}

// Route splits the decision's recommended size across venues by
// available depth, best effective price first. Sub-requests share one
// client_ref root plus a sub-index for idempotent retry.
func (r *OrderRouter) Route(ctx context.Context, decision *models.RiskDecision) (*models.RouteResult, error) {
	if !decision.Approved() {
		return nil, fmt.Errorf("%w: decision not approved", models.ErrValidation)
	}
	fused := decision.FusedSignal
	side := models.SideBuy
	if fused.Direction == models.DirectionSell {
		side = models.SideSell
	}

	start := time.Now()
	quotes := r.market.Fresh(ctx, fused.Symbol)

	// Best effective price first; configured venue order breaks ties.
	sort.SliceStable(quotes, func(i, j int) bool {
		pi, pj := quotes[i].EffectivePrice(side), quotes[j].EffectivePrice(side)
		if side == models.SideBuy {
			return pi < pj
		}
		return pi > pj
	})

	// Venues priced beyond the slippage tolerance from the best quote
	// are never filled into; sorting makes this a hard cutoff.
	var priceCutoff float64
	if r.cfg.SlippageTolerance > 0 && len(quotes) > 0 {
		best := quotes[0].EffectivePrice(side)
		if side == models.SideBuy {
			priceCutoff = best * (1 + r.cfg.SlippageTolerance)
		} else {
			priceCutoff = best * (1 - r.cfg.SlippageTolerance)
		}
	}

	clientRoot := uuid.NewString()
	result := &models.RouteResult{Unplaced: decision.RecommendedSize}

	for _, q := range quotes {
		if result.Unplaced <= 0 {
			break
		}
		if priceCutoff > 0 {
			px := q.EffectivePrice(side)
			if (side == models.SideBuy && px > priceCutoff) ||
				(side == models.SideSell && px < priceCutoff) {
				break
			}
		}
		if q.Depth <= 0 {
			continue
		}
		if r.limiter != nil && !r.limiter.Allow(q.Venue, r.cfg.VenueRateCapacity, r.cfg.VenueRateRefill) {
			r.metrics.RecordError("router_ratelimited_" + q.Venue)
			continue
		}

		slice := result.Unplaced
		if slice > q.Depth {
			slice = q.Depth
		}
		if r.cfg.MinSliceQuantity > 0 && slice < r.cfg.MinSliceQuantity {
			continue
		}

		result.Requests = append(result.Requests, models.OrderRequest{
			ClientRef: fmt.Sprintf("%s-%d", clientRoot, len(result.Requests)),
			Venue:     q.Venue,
			Symbol:    fused.Symbol,
			Side:      side,
			Type:      models.TypeMarket,
			Quantity:  slice,
		})
		result.Placed += slice
		result.Unplaced -= slice
	}

	if result.Unplaced > 1e-12 {
		result.InsufficientLiquidity = true
	} else {
		result.Unplaced = 0
	}

	r.metrics.RecordLatency("route", time.Since(start).Seconds())
	r.logger.Debug("routed decision",
		logger.String("symbol", fused.Symbol),
		logger.Int("slices", len(result.Requests)),
		logger.Bool("short", result.InsufficientLiquidity))
	return result, nil
}

// BestVenue names the venue with the best effective price for the side.
func (r *OrderRouter) BestVenue(ctx context.Context, symbol string, side models.OrderSide) (string, bool) {
	q, ok := r.market.Best(ctx, symbol, side)
	if !ok {
		return "", false
	}
	return q.Venue, true
}
