package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
)

// Snapshot is the indicator set computed over one candle series,
// latest values only.
type Snapshot struct {
	Close      float64
	SMA20      float64
	SMA50      float64
	EMA12      float64
	EMA26      float64
	RSI14      float64
	MACD       float64
	MACDSignal float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	ATR14      float64
}

// MinCandles is the shortest series the full snapshot needs.
const MinCandles = 50

// Compute derives the snapshot from a candle series, oldest first.
// Returns false when the series is too short.
func Compute(candles []models.Candle) (Snapshot, bool) {
	if len(candles) < MinCandles {
		return Snapshot{}, false
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := len(closes) - 1

	sma20 := talib.Sma(closes, 20)
	sma50 := talib.Sma(closes, 50)
	ema12 := talib.Ema(closes, 12)
	ema26 := talib.Ema(closes, 26)
	rsi := talib.Rsi(closes, 14)
	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	atr := talib.Atr(highs, lows, closes, 14)

	return Snapshot{
		Close:      closes[last],
		SMA20:      sma20[last],
		SMA50:      sma50[last],
		EMA12:      ema12[last],
		EMA26:      ema26[last],
		RSI14:      rsi[last],
		MACD:       macd[last],
		MACDSignal: signal[last],
		BBUpper:    upper[last],
		BBMiddle:   middle[last],
		BBLower:    lower[last],
		ATR14:      atr[last],
	}, true
}

// LogReturns computes r_t = ln(C_t / C_{t-1}); length len(candles)-1,
// nil on insufficient data.
func LogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the
// latest window of log returns.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYearForTF returns the approximate number of bars per year for
// a timeframe.
func BarsPerYearForTF(tf drepo.Timeframe) float64 {
	switch tf {
	case drepo.TF1m:
		return 365 * 24 * 60
	case drepo.TF5m:
		return 365 * 24 * 12
	case drepo.TF15m:
		return 365 * 24 * 4
	case drepo.TF1h:
		return 365 * 24
	case drepo.TF4h:
		return 365 * 6
	case drepo.TF1d:
		return 365
	default:
		return 365 * 24
	}
}
