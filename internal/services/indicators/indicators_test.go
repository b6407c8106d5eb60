package indicators

import (
	"math"
	"testing"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
)

func risingCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.Candle{
			Bucket: base.Add(time.Duration(i) * time.Hour),
			Symbol: "BTCUSDT",
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 10,
		}
	}
	return out
}

func TestComputeShortSeries(t *testing.T) {
	if _, ok := Compute(risingCandles(MinCandles - 1)); ok {
		t.Fatalf("expected short series to be refused")
	}
}

func TestComputeRisingSeries(t *testing.T) {
	candles := risingCandles(60)
	snap, ok := Compute(candles)
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if snap.Close != 159 {
		t.Fatalf("close %v, want 159", snap.Close)
	}
	// sma20 over closes 140..159 = 149.5; sma50 over 110..159 = 134.5
	if math.Abs(snap.SMA20-149.5) > 1e-9 {
		t.Fatalf("sma20 %v, want 149.5", snap.SMA20)
	}
	if math.Abs(snap.SMA50-134.5) > 1e-9 {
		t.Fatalf("sma50 %v, want 134.5", snap.SMA50)
	}
	if !(snap.Close > snap.SMA20 && snap.SMA20 > snap.SMA50) {
		t.Fatalf("rising series must align close > sma20 > sma50: %+v", snap)
	}
	if snap.EMA12 <= snap.EMA26 {
		t.Fatalf("rising series must have ema12 > ema26: %v vs %v", snap.EMA12, snap.EMA26)
	}
	if math.Abs(snap.BBMiddle-snap.SMA20) > 1e-9 {
		t.Fatalf("bb middle %v must equal sma20 %v", snap.BBMiddle, snap.SMA20)
	}
	if !(snap.BBLower < snap.BBMiddle && snap.BBMiddle < snap.BBUpper) {
		t.Fatalf("band ordering broken: %+v", snap)
	}
	if snap.RSI14 <= 50 {
		t.Fatalf("rsi of a monotone uptrend should exceed 50, got %v", snap.RSI14)
	}
}

func TestLogReturns(t *testing.T) {
	candles := []models.Candle{{Close: 100}, {Close: 110}, {Close: 99}}
	r := LogReturns(candles)
	if len(r) != 2 {
		t.Fatalf("len %d, want 2", len(r))
	}
	if math.Abs(r[0]-math.Log(1.1)) > 1e-12 {
		t.Fatalf("r0 %v", r[0])
	}
	if r[1] >= 0 {
		t.Fatalf("down bar must give negative return, got %v", r[1])
	}
	if LogReturns(candles[:1]) != nil {
		t.Fatalf("single candle has no returns")
	}
}

func TestRealizedVolatility(t *testing.T) {
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 0.01
	}
	if v := RealizedVolatility(flat, 30, 365*24); v != 0 {
		t.Fatalf("constant returns have zero vol, got %v", v)
	}
	if v := RealizedVolatility(flat[:10], 30, 365*24); v != 0 {
		t.Fatalf("insufficient window must give 0, got %v", v)
	}

	mixed := make([]float64, 40)
	for i := range mixed {
		if i%2 == 0 {
			mixed[i] = 0.01
		} else {
			mixed[i] = -0.01
		}
	}
	if v := RealizedVolatility(mixed, 30, 365*24); v <= 0 {
		t.Fatalf("alternating returns must have positive vol")
	}
}

func TestBarsPerYearForTF(t *testing.T) {
	if BarsPerYearForTF(drepo.TF1d) != 365 {
		t.Fatalf("1d bars per year")
	}
	if BarsPerYearForTF(drepo.TF1h) != 365*24 {
		t.Fatalf("1h bars per year")
	}
	if BarsPerYearForTF(drepo.Timeframe("bogus")) != 365*24 {
		t.Fatalf("unknown timeframe defaults to hourly")
	}
}
