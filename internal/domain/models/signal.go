package models

import "time"

// SignalSource identifies the adapter that produced a signal.
type SignalSource string

const (
	SourceTechnical  SignalSource = "technical"
	SourceSentiment  SignalSource = "sentiment"
	SourcePattern    SignalSource = "pattern"
	SourcePredictive SignalSource = "predictive"
)

// Direction is a signal's directional opinion.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Signal is one source's confidence-scored opinion on a symbol/timeframe.
// Immutable once created; owned by its producing adapter until fused.
type Signal struct {
	Symbol      string
	Timeframe   string
	Source      SignalSource
	Direction   Direction
	Strength    float64 // 0..1
	Confidence  float64 // 0..1
	GeneratedAt time.Time
	Rationale   string // free text, non-authoritative
}

// WeightedSignal records a contributing signal together with the
// per-source weight applied during fusion.
type WeightedSignal struct {
	Signal Signal
	Weight float64
}

// FusedSignal is the weighted combination of same-symbol, same-timeframe
// signals into one actionable direction.
type FusedSignal struct {
	Symbol              string
	Timeframe           string
	Direction           Direction
	AggregateConfidence float64
	Contributing        []WeightedSignal // fixed source order, weights recorded
	CreatedAt           time.Time
}
