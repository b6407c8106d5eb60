package signals

import (
	"context"
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
)

// PatternAdapter scans recent candles for double-top and double-bottom
// pivots. Two swing highs within tolerance of each other followed by a
// lower close reads as a top; the mirror reads as a bottom.
type PatternAdapter struct {
	candles   drepo.CandleSource
	lookback  int
	pivotSpan int     // bars on each side a pivot must dominate
	tolerance float64 // max relative gap between the two pivots
}

// NewPatternAdapter creates the adapter over a candle source.
func NewPatternAdapter(candles drepo.CandleSource) *PatternAdapter {
	return &PatternAdapter{candles: candles, lookback: 60, pivotSpan: 2, tolerance: 0.01}
}

func (a *PatternAdapter) Source() models.SignalSource { return models.SourcePattern }

func (a *PatternAdapter) Generate(ctx context.Context, symbol string, tf drepo.Timeframe) (*models.Signal, error) {
	series, err := a.candles.GetLatestNCandles(ctx, symbol, a.lookback, tf)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	if len(series) < a.pivotSpan*2+5 {
		return nil, nil
	}

	highs := a.pivots(series, true)
	lows := a.pivots(series, false)
	last := series[len(series)-1].Close

	if i, j, ok := a.matchedPair(series, highs, true); ok {
		neck := lowestCloseBetween(series, i, j)
		if last < neck {
			return a.signal(symbol, tf, models.DirectionSell,
				fmt.Sprintf("double top at %.2f/%.2f, close %.2f below neckline %.2f",
					series[i].High, series[j].High, last, neck)), nil
		}
	}
	if i, j, ok := a.matchedPair(series, lows, false); ok {
		neck := highestCloseBetween(series, i, j)
		if last > neck {
			return a.signal(symbol, tf, models.DirectionBuy,
				fmt.Sprintf("double bottom at %.2f/%.2f, close %.2f above neckline %.2f",
					series[i].Low, series[j].Low, last, neck)), nil
		}
	}
	return nil, nil
}

func (a *PatternAdapter) signal(symbol string, tf drepo.Timeframe, dir models.Direction, why string) *models.Signal {
	return &models.Signal{
		Symbol:      symbol,
		Timeframe:   string(tf),
		Source:      models.SourcePattern,
		Direction:   dir,
		Strength:    0.7,
		Confidence:  0.7,
		GeneratedAt: time.Now(),
		Rationale:   why,
	}
}

// pivots returns indexes of local extrema dominating pivotSpan bars on
// each side.
func (a *PatternAdapter) pivots(series []models.Candle, high bool) []int {
	var out []int
	for i := a.pivotSpan; i < len(series)-a.pivotSpan; i++ {
		dominant := true
		for d := 1; d <= a.pivotSpan; d++ {
			if high {
				if series[i].High < series[i-d].High || series[i].High < series[i+d].High {
					dominant = false
					break
				}
			} else {
				if series[i].Low > series[i-d].Low || series[i].Low > series[i+d].Low {
					dominant = false
					break
				}
			}
		}
		if dominant {
			out = append(out, i)
		}
	}
	return out
}

// matchedPair finds the most recent two pivots within tolerance.
func (a *PatternAdapter) matchedPair(series []models.Candle, pivots []int, high bool) (int, int, bool) {
	if len(pivots) < 2 {
		return 0, 0, false
	}
	for j := len(pivots) - 1; j > 0; j-- {
		for i := j - 1; i >= 0; i-- {
			var a1, a2 float64
			if high {
				a1, a2 = series[pivots[i]].High, series[pivots[j]].High
			} else {
				a1, a2 = series[pivots[i]].Low, series[pivots[j]].Low
			}
			gap := a1 - a2
			if gap < 0 {
				gap = -gap
			}
			if a1 > 0 && gap/a1 <= a.tolerance {
				return pivots[i], pivots[j], true
			}
		}
	}
	return 0, 0, false
}

func lowestCloseBetween(series []models.Candle, i, j int) float64 {
	low := series[i].Close
	for k := i; k <= j; k++ {
		if series[k].Close < low {
			low = series[k].Close
		}
	}
	return low
}

func highestCloseBetween(series []models.Candle, i, j int) float64 {
	high := series[i].Close
	for k := i; k <= j; k++ {
		if series[k].Close > high {
			high = series[k].Close
		}
	}
	return high
}
