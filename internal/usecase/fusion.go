package usecase

import (
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
)

// fusionSourceOrder fixes the iteration order over sources so that
// recomputing a fusion from the same inputs yields bit-identical output.
var fusionSourceOrder = []models.SignalSource{
	models.SourceTechnical,
	models.SourceSentiment,
	models.SourcePattern,
	models.SourcePredictive,
}

// FusionConfig holds per-source weights and the actionability threshold.
// Weights need not sum to 1; the engine normalizes.
type FusionConfig struct {
	Weights       map[models.SignalSource]float64
	MinConfidence float64
}

// FusionEngine combines same-symbol, same-timeframe signals into one
// FusedSignal using weighted confidence aggregation. It is a pure
// function over its inputs and static weight configuration.
type FusionEngine struct {
	weights map[models.SignalSource]float64
	minConf float64
}

// NewFusionEngine creates a fusion engine from config.
func NewFusionEngine(cfg FusionConfig) *FusionEngine {
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = 0.6
	}
	weights := make(map[models.SignalSource]float64, len(cfg.Weights))
	for src, w := range cfg.Weights {
		weights[src] = w
	}
	return &FusionEngine{weights: weights, minConf: minConf}
}

// Fuse aggregates signals into a fused direction, or nil when no
// actionable direction emerges. Mixed symbol/timeframe input is a
// caller error, not silently filtered. Equal opposing scores yield nil:
// ambiguity must not produce a trade.
func (e *FusionEngine) Fuse(signals []models.Signal) (*models.FusedSignal, error) {
	if len(signals) == 0 {
		return nil, nil
	}

	symbol, timeframe := signals[0].Symbol, signals[0].Timeframe
	for _, s := range signals {
		if s.Symbol != symbol || s.Timeframe != timeframe {
			return nil, fmt.Errorf("%w: mixed input %s/%s vs %s/%s",
				models.ErrValidation, s.Symbol, s.Timeframe, symbol, timeframe)
		}
	}

	var (
		buyScore     float64
		sellScore    float64
		scoredWeight float64
		contributing []models.WeightedSignal
	)

	// Fixed source order; input order preserved within a source.
	for _, src := range fusionSourceOrder {
		w, ok := e.weights[src]
		if !ok || w <= 0 {
			continue
		}
		for _, s := range signals {
			if s.Source != src {
				continue
			}
			contributing = append(contributing, models.WeightedSignal{Signal: s, Weight: w})
			switch s.Direction {
			case models.DirectionBuy:
				buyScore += s.Confidence * w
				scoredWeight += w
			case models.DirectionSell:
				sellScore += s.Confidence * w
				scoredWeight += w
			case models.DirectionHold:
				// recorded as contributing, scores neither side
			}
		}
	}

	if scoredWeight == 0 || buyScore == sellScore {
		return nil, nil
	}

	direction := models.DirectionBuy
	score := buyScore
	if sellScore > buyScore {
		direction = models.DirectionSell
		score = sellScore
	}

	confidence := score / scoredWeight
	if confidence < e.minConf {
		return nil, nil
	}

	return &models.FusedSignal{
		Symbol:              symbol,
		Timeframe:           timeframe,
		Direction:           direction,
		AggregateConfidence: confidence,
		Contributing:        contributing,
		CreatedAt:           time.Now(),
	}, nil
}

// MinConfidence returns the configured actionability threshold.
func (e *FusionEngine) MinConfidence() float64 { return e.minConf }
