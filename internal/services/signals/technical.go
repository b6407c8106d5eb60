package signals

import (
	"context"
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/internal/services/indicators"
)

// TechnicalAdapter derives trend signals from moving-average alignment
// gated by RSI, with MACD agreement shading confidence.
type TechnicalAdapter struct {
	candles  drepo.CandleSource
	lookback int
}

// NewTechnicalAdapter creates the adapter over a candle source.
func NewTechnicalAdapter(candles drepo.CandleSource) *TechnicalAdapter {
	return &TechnicalAdapter{candles: candles, lookback: 100}
}

func (a *TechnicalAdapter) Source() models.SignalSource { return models.SourceTechnical }

func (a *TechnicalAdapter) Generate(ctx context.Context, symbol string, tf drepo.Timeframe) (*models.Signal, error) {
	series, err := a.candles.GetLatestNCandles(ctx, symbol, a.lookback, tf)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	snap, ok := indicators.Compute(series)
	if !ok {
		return nil, nil
	}

	var (
		direction models.Direction
		strength  float64
		rationale string
	)
	switch {
	case snap.Close > snap.SMA20 && snap.SMA20 > snap.SMA50 && snap.RSI14 < 70:
		direction = models.DirectionBuy
		strength = 0.8
		rationale = fmt.Sprintf("uptrend: close %.2f > sma20 %.2f > sma50 %.2f, rsi %.1f", snap.Close, snap.SMA20, snap.SMA50, snap.RSI14)
	case snap.Close < snap.SMA20 && snap.SMA20 < snap.SMA50 && snap.RSI14 > 30:
		direction = models.DirectionSell
		strength = 0.8
		rationale = fmt.Sprintf("downtrend: close %.2f < sma20 %.2f < sma50 %.2f, rsi %.1f", snap.Close, snap.SMA20, snap.SMA50, snap.RSI14)
	default:
		direction = models.DirectionHold
		strength = 0.3
		rationale = "no aligned trend"
	}

	confidence := strength
	if direction == models.DirectionBuy && snap.MACD > snap.MACDSignal {
		confidence += 0.1
	}
	if direction == models.DirectionSell && snap.MACD < snap.MACDSignal {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}

	return &models.Signal{
		Symbol:      symbol,
		Timeframe:   string(tf),
		Source:      models.SourceTechnical,
		Direction:   direction,
		Strength:    strength,
		Confidence:  confidence,
		GeneratedAt: time.Now(),
		Rationale:   rationale,
	}, nil
}
