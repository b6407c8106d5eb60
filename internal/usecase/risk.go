package usecase

import (
	"context"
	"sync"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

// RiskConfig holds the hard and soft limits applied to every decision.
// All limits are fractions of portfolio value unless noted.
type RiskConfig struct {
	RiskFraction         float64             // equity at risk per trade, default 0.02
	DefaultStopDistance  float64             // stop distance as fraction of entry when no stop, default 0.02
	MaxPositionSizePct   float64             // per-symbol notional cap, default 0.10
	MaxDailyLossPct      float64             // daily realized+unrealized loss cap, default 0.05
	MaxCorrelatedPct     float64             // correlated-exposure notional cap, default 0.25
	MaxVolumeFraction    float64             // notional vs recent traded volume, default 0.01
	RiskRewardRatio      float64             // take-profit distance multiple, default 2.0
	VolatilityThreshold  float64             // annualized vol above which size halves
	ConfidenceSoftMargin float64             // conf within threshold+margin reduces size, default 0.1
	Correlations         map[string][]string // symbol -> correlated symbols
}

func (c RiskConfig) withDefaults() RiskConfig {
	if c.RiskFraction <= 0 {
		c.RiskFraction = 0.02
	}
	if c.DefaultStopDistance <= 0 {
		c.DefaultStopDistance = 0.02
	}
	if c.MaxPositionSizePct <= 0 {
		c.MaxPositionSizePct = 0.10
	}
	if c.MaxDailyLossPct <= 0 {
		c.MaxDailyLossPct = 0.05
	}
	if c.MaxCorrelatedPct <= 0 {
		c.MaxCorrelatedPct = 0.25
	}
	if c.MaxVolumeFraction <= 0 {
		c.MaxVolumeFraction = 0.01
	}
	if c.RiskRewardRatio <= 0 {
		c.RiskRewardRatio = 2.0
	}
	if c.VolatilityThreshold <= 0 {
		c.VolatilityThreshold = 1.5
	}
	if c.ConfidenceSoftMargin <= 0 {
		c.ConfidenceSoftMargin = 0.1
	}
	return c
}

// VolatilityFn estimates current annualized volatility for a symbol.
// Zero means unknown; the soft volatility check is then skipped.
type VolatilityFn func(ctx context.Context, symbol string) float64

// RiskValidator applies hard limits in fixed order, short-circuiting on
// the first violation, then soft size reductions. Evaluations are
// serialized per account so size and loss checks see a consistent view
// of exposure; different accounts proceed in parallel.
type RiskValidator struct {
	cfg     RiskConfig
	market  *MarketView
	volOf   VolatilityFn
	minConf float64
	metrics drepo.Metrics
	logger  *logger.Logger

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// NewRiskValidator creates a validator.
func NewRiskValidator(cfg RiskConfig, market *MarketView, volOf VolatilityFn, minConf float64, metrics drepo.Metrics, lgr *logger.Logger) *RiskValidator {
	return &RiskValidator{
		cfg:      cfg.withDefaults(),
		market:   market,
		volOf:    volOf,
		minConf:  minConf,
		metrics:  metrics,
		logger:   lgr,
		accounts: make(map[string]*sync.Mutex),
	}
}

func (v *RiskValidator) accountLock(id string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.accounts[id]
	if !ok {
		m = &sync.Mutex{}
		v.accounts[id] = m
	}
	return m
}

// Validate evaluates a fused signal against account state and returns a
// decision. Rejection is a business outcome, never an error.
func (v *RiskValidator) Validate(ctx context.Context, fused *models.FusedSignal, account *models.AccountState) *models.RiskDecision {
	lock := v.accountLock(account.AccountID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	d := v.evaluate(ctx, fused, account)
	v.metrics.RecordLatency("risk_validate", time.Since(start).Seconds())

	reason := ""
	if len(d.Reasons) > 0 {
		reason = d.Reasons[0]
	}
	v.metrics.RecordRiskDecision(string(d.Outcome), reason)
	return d
}

func (v *RiskValidator) evaluate(ctx context.Context, fused *models.FusedSignal, account *models.AccountState) *models.RiskDecision {
	d := &models.RiskDecision{
		FusedSignal: fused,
		AccountID:   account.AccountID,
		Outcome:     models.OutcomeRejected,
		EvaluatedAt: time.Now(),
	}

	entry, ok := v.market.LastPrice(ctx, fused.Symbol)
	if !ok || entry <= 0 {
		d.Reasons = append(d.Reasons, models.ReasonInsufficientLiquidity)
		return d
	}
	d.EntryPrice = entry

	stopDistance := entry * v.cfg.DefaultStopDistance
	if fused.Direction == models.DirectionBuy {
		d.StopPrice = entry - stopDistance
		d.TakeProfitPrice = entry + stopDistance*v.cfg.RiskRewardRatio
	} else {
		d.StopPrice = entry + stopDistance
		d.TakeProfitPrice = entry - stopDistance*v.cfg.RiskRewardRatio
	}

	// Risk-amount / stop-distance sizing, capped by the position limit
	// and available balance (5% buffer kept free).
	riskSize := account.Equity * v.cfg.RiskFraction / stopDistance
	posCap := v.cfg.MaxPositionSizePct * account.Equity
	existing := v.symbolNotional(account, fused.Symbol, entry)

	// 1. Position-size check.
	capRemaining := posCap - existing
	if capRemaining <= 0 {
		d.Reasons = append(d.Reasons, models.ReasonPositionSizeExceeded)
		return d
	}
	size := riskSize
	if size*entry > capRemaining {
		size = capRemaining / entry
	}
	if balanceCap := account.AvailableBalance * 0.95 / entry; size > balanceCap {
		size = balanceCap
	}
	if size <= 0 {
		d.Reasons = append(d.Reasons, models.ReasonPositionSizeExceeded)
		return d
	}
	notional := size * entry

	// 2. Daily-loss check: rejects unconditionally regardless of
	// signal quality.
	if account.DailyLoss() >= v.cfg.MaxDailyLossPct*account.Equity {
		d.Reasons = append(d.Reasons, models.ReasonDailyLossExceeded)
		return d
	}

	// 3. Exposure across correlated symbols.
	corr := v.correlatedNotional(account, fused.Symbol) + existing
	if corr+notional > v.cfg.MaxCorrelatedPct*account.Equity {
		d.Reasons = append(d.Reasons, models.ReasonCorrelationCap)
		return d
	}

	// 4. Liquidity: keep the order small relative to recent volume so
	// thin markets are not moved.
	if vol := v.market.RecentVolume(ctx, fused.Symbol); vol > 0 {
		if notional > v.cfg.MaxVolumeFraction*vol*entry {
			d.Reasons = append(d.Reasons, models.ReasonInsufficientLiquidity)
			return d
		}
	}

	// Soft checks reduce size without rejecting.
	if v.volOf != nil {
		if ann := v.volOf(ctx, fused.Symbol); ann > v.cfg.VolatilityThreshold {
			size *= 0.5
			d.Reasons = append(d.Reasons, models.ReasonHighVolatility)
		}
	}
	if fused.AggregateConfidence < v.minConf+v.cfg.ConfidenceSoftMargin {
		size *= 0.75
		d.Reasons = append(d.Reasons, models.ReasonLowConfidence)
	}

	d.Outcome = models.OutcomeApproved
	d.RecommendedSize = size
	d.MaxLossEstimate = size * stopDistance
	return d
}

func (v *RiskValidator) symbolNotional(account *models.AccountState, symbol string, mark float64) float64 {
	for i := range account.Positions {
		if account.Positions[i].Symbol == symbol {
			return account.Positions[i].Notional(mark)
		}
	}
	return 0
}

func (v *RiskValidator) correlatedNotional(account *models.AccountState, symbol string) float64 {
	related := v.cfg.Correlations[symbol]
	if len(related) == 0 {
		return 0
	}
	var total float64
	for i := range account.Positions {
		p := &account.Positions[i]
		for _, r := range related {
			if p.Symbol == r {
				// mark correlated positions at their own entry when no
				// fresher price is on hand
				total += p.Notional(p.AverageEntryPrice)
				break
			}
		}
	}
	return total
}
