package models

import "time"

// Candle is one OHLCV record, the input unit for indicator computation.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote is a venue's most recent view of a symbol, cached for routing.
// Routing tolerates quotes being a few seconds stale.
type Quote struct {
	Venue     string
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Depth     float64 // size available within slippage tolerance
	FeeRate   float64 // taker fee fraction, e.g. 0.001
	Volume24h float64
	AsOf      time.Time
}

// EffectivePrice returns the fee-adjusted price for taking liquidity
// on the given side. Buys pay the ask plus fees; sells receive the bid
// minus fees.
func (q *Quote) EffectivePrice(side OrderSide) float64 {
	if side == SideBuy {
		return q.Ask * (1 + q.FeeRate)
	}
	return q.Bid * (1 - q.FeeRate)
}
