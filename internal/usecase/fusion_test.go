package usecase

import (
	"errors"
	"math"
	"testing"

	"TradePilot/internal/domain/models"
)

func testEngine() *FusionEngine {
	return NewFusionEngine(FusionConfig{
		Weights: map[models.SignalSource]float64{
			models.SourceTechnical:  1.0,
			models.SourceSentiment:  0.5,
			models.SourcePattern:    0.7,
			models.SourcePredictive: 0.8,
		},
		MinConfidence: 0.6,
	})
}

func sig(src models.SignalSource, dir models.Direction, conf float64) models.Signal {
	return models.Signal{
		Symbol:     "BTCUSDT",
		Timeframe:  "1h",
		Source:     src,
		Direction:  dir,
		Confidence: conf,
		Strength:   conf,
	}
}

func TestFuseWeightedAggregation(t *testing.T) {
	e := testEngine()
	fused, err := e.Fuse([]models.Signal{
		sig(models.SourceTechnical, models.DirectionBuy, 0.8),
		sig(models.SourceSentiment, models.DirectionSell, 0.9),
		sig(models.SourcePattern, models.DirectionBuy, 0.7),
		sig(models.SourcePredictive, models.DirectionBuy, 0.4),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fused == nil {
		t.Fatalf("expected fused signal")
	}
	if fused.Direction != models.DirectionBuy {
		t.Fatalf("expected buy, got %s", fused.Direction)
	}
	// buy = 0.8*1.0 + 0.7*0.7 + 0.4*0.8 = 1.61, total weight = 3.0
	want := 1.61 / 3.0
	if math.Abs(fused.AggregateConfidence-want) > 1e-9 {
		t.Fatalf("confidence %v, want %v", fused.AggregateConfidence, want)
	}
	if len(fused.Contributing) != 4 {
		t.Fatalf("expected 4 contributing, got %d", len(fused.Contributing))
	}
}

func TestFuseDeterministic(t *testing.T) {
	e := testEngine()
	in := []models.Signal{
		sig(models.SourcePredictive, models.DirectionBuy, 0.9),
		sig(models.SourceTechnical, models.DirectionBuy, 0.8),
		sig(models.SourceSentiment, models.DirectionBuy, 0.7),
	}
	a, _ := e.Fuse(in)
	// reversed input order
	b, _ := e.Fuse([]models.Signal{in[2], in[1], in[0]})
	if a == nil || b == nil {
		t.Fatalf("expected fused signals")
	}
	if a.AggregateConfidence != b.AggregateConfidence || a.Direction != b.Direction {
		t.Fatalf("fusion not order independent: %+v vs %+v", a, b)
	}
	for i := range a.Contributing {
		if a.Contributing[i].Signal.Source != b.Contributing[i].Signal.Source {
			t.Fatalf("contributing order differs at %d", i)
		}
	}
}

func TestFuseTieYieldsNil(t *testing.T) {
	e := NewFusionEngine(FusionConfig{
		Weights: map[models.SignalSource]float64{
			models.SourceTechnical: 1.0,
			models.SourcePattern:   1.0,
		},
		MinConfidence: 0.1,
	})
	fused, err := e.Fuse([]models.Signal{
		sig(models.SourceTechnical, models.DirectionBuy, 0.8),
		sig(models.SourcePattern, models.DirectionSell, 0.8),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fused != nil {
		t.Fatalf("equal opposing scores must not trade, got %+v", fused)
	}
}

func TestFuseBelowThresholdYieldsNil(t *testing.T) {
	e := testEngine()
	fused, err := e.Fuse([]models.Signal{
		sig(models.SourceTechnical, models.DirectionBuy, 0.3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fused != nil {
		t.Fatalf("below min confidence must yield nil")
	}
}

func TestFuseHoldScoresNeitherSide(t *testing.T) {
	e := testEngine()
	fused, err := e.Fuse([]models.Signal{
		sig(models.SourceTechnical, models.DirectionBuy, 0.9),
		sig(models.SourceSentiment, models.DirectionHold, 0.9),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fused == nil {
		t.Fatalf("expected fused signal")
	}
	// hold contributes to the record but not the score
	if fused.AggregateConfidence != 0.9 {
		t.Fatalf("hold diluted confidence: %v", fused.AggregateConfidence)
	}
	if len(fused.Contributing) != 2 {
		t.Fatalf("hold should still be recorded, got %d contributing", len(fused.Contributing))
	}
}

func TestFuseMixedInputRejected(t *testing.T) {
	e := testEngine()
	mixed := []models.Signal{
		sig(models.SourceTechnical, models.DirectionBuy, 0.8),
		{Symbol: "ETHUSDT", Timeframe: "1h", Source: models.SourcePattern, Direction: models.DirectionBuy, Confidence: 0.8},
	}
	if _, err := e.Fuse(mixed); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFuseEmptyInput(t *testing.T) {
	e := testEngine()
	fused, err := e.Fuse(nil)
	if err != nil || fused != nil {
		t.Fatalf("empty input must be (nil, nil), got %v %v", fused, err)
	}
}

func TestFuseUnweightedSourceIgnored(t *testing.T) {
	e := NewFusionEngine(FusionConfig{
		Weights:       map[models.SignalSource]float64{models.SourceTechnical: 1.0},
		MinConfidence: 0.5,
	})
	fused, err := e.Fuse([]models.Signal{
		sig(models.SourcePredictive, models.DirectionSell, 0.99),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fused != nil {
		t.Fatalf("zero-weight source must not drive a trade")
	}
}
