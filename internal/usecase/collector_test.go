package usecase

import (
	"context"
	"testing"
	"time"

	"TradePilot/internal/domain/models"
)

func TestCollectorFlushesWindow(t *testing.T) {
	sink := &memSink{}
	c := NewSignalCollector(testEngine(), 50*time.Millisecond, sink, nopMetrics{}, testLogger())
	defer c.Stop()
	ctx := context.Background()

	c.Offer(ctx, sig(models.SourceTechnical, models.DirectionBuy, 0.9))
	c.Offer(ctx, sig(models.SourcePattern, models.DirectionBuy, 0.8))

	select {
	case fused := <-c.Fused():
		if fused.Direction != models.DirectionBuy {
			t.Fatalf("direction %s", fused.Direction)
		}
		if len(fused.Contributing) != 2 {
			t.Fatalf("contributing %d, want 2", len(fused.Contributing))
		}
	case <-time.After(time.Second):
		t.Fatalf("window never flushed")
	}

	if got := len(sink.named(models.EventSignalFused)); got != 1 {
		t.Fatalf("fused events %d, want 1", got)
	}
}

func TestCollectorLateSignalOpensNewWindow(t *testing.T) {
	c := NewSignalCollector(testEngine(), 30*time.Millisecond, &memSink{}, nopMetrics{}, testLogger())
	defer c.Stop()
	ctx := context.Background()

	c.Offer(ctx, sig(models.SourceTechnical, models.DirectionBuy, 0.9))
	<-c.Fused()

	// after the flush, the next signal starts a fresh cycle
	c.Offer(ctx, sig(models.SourceTechnical, models.DirectionSell, 0.9))
	select {
	case fused := <-c.Fused():
		if fused.Direction != models.DirectionSell {
			t.Fatalf("direction %s, want sell", fused.Direction)
		}
	case <-time.After(time.Second):
		t.Fatalf("second window never flushed")
	}
}

func TestCollectorSeparateWindowsPerKey(t *testing.T) {
	c := NewSignalCollector(testEngine(), 50*time.Millisecond, &memSink{}, nopMetrics{}, testLogger())
	defer c.Stop()
	ctx := context.Background()

	c.Offer(ctx, sig(models.SourceTechnical, models.DirectionBuy, 0.9))
	eth := sig(models.SourceTechnical, models.DirectionSell, 0.9)
	eth.Symbol = "ETHUSDT"
	c.Offer(ctx, eth)

	got := map[string]models.Direction{}
	for i := 0; i < 2; i++ {
		select {
		case fused := <-c.Fused():
			got[fused.Symbol] = fused.Direction
		case <-time.After(time.Second):
			t.Fatalf("missing fusion %d", i)
		}
	}
	if got["BTCUSDT"] != models.DirectionBuy || got["ETHUSDT"] != models.DirectionSell {
		t.Fatalf("fusions %v", got)
	}
}

func TestCollectorNonActionableProducesNothing(t *testing.T) {
	c := NewSignalCollector(testEngine(), 20*time.Millisecond, &memSink{}, nopMetrics{}, testLogger())
	defer c.Stop()
	ctx := context.Background()

	c.Offer(ctx, sig(models.SourceTechnical, models.DirectionBuy, 0.2))

	select {
	case fused := <-c.Fused():
		t.Fatalf("unexpected fusion %+v", fused)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCollectorStopDiscardsOpenWindows(t *testing.T) {
	c := NewSignalCollector(testEngine(), time.Hour, &memSink{}, nopMetrics{}, testLogger())
	ctx := context.Background()

	c.Offer(ctx, sig(models.SourceTechnical, models.DirectionBuy, 0.9))
	c.Stop()

	if _, open := <-c.Fused(); open {
		t.Fatalf("output must be closed after stop")
	}
}
