package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradePilot/internal/domain/models"
)

type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string)       {}
func (nopMetrics) RecordFusion(string, bool)         {}
func (nopMetrics) RecordRiskDecision(string, string) {}
func (nopMetrics) RecordOrderState(string)           {}
func (nopMetrics) RecordFill(string, string)         {}
func (nopMetrics) RecordError(string)                {}
func (nopMetrics) RecordLastPrice(string, float64)   {}
func (nopMetrics) RecordLatency(string, float64)     {}
func (nopMetrics) RecordPosition(string, float64)    {}

type scriptedProc struct {
	mu    sync.Mutex
	errs  []error // consumed one per call, nil afterwards
	calls int
}

func (p *scriptedProc) IngestFill(ctx context.Context, f *models.Fill) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func (p *scriptedProc) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func goodFill(ref string) *models.Fill {
	return &models.Fill{
		OrderID:          "o1",
		Symbol:           "BTCUSDT",
		Quantity:         1,
		Price:            100,
		ExchangeTradeRef: ref,
		ReceivedAt:       time.Now(),
	}
}

func TestProcessForwardsValidFill(t *testing.T) {
	proc := &scriptedProc{}
	p := NewFillPipeline(proc, nopMetrics{})
	if err := p.Process(context.Background(), goodFill("t1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.callCount() != 1 {
		t.Fatalf("calls %d, want 1", proc.callCount())
	}
}

func TestProcessRejectsMalformedFill(t *testing.T) {
	proc := &scriptedProc{}
	p := NewFillPipeline(proc, nopMetrics{})

	bad := goodFill("t1")
	bad.Quantity = 0
	if err := p.Process(context.Background(), bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if proc.callCount() != 0 {
		t.Fatalf("malformed fill must not reach downstream")
	}
}

func TestProcessRetriesTransientError(t *testing.T) {
	proc := &scriptedProc{errs: []error{errors.New("store down")}}
	p := NewFillPipeline(proc, nopMetrics{})
	p.Start(context.Background())
	defer p.Stop()

	if err := p.Process(context.Background(), goodFill("t1")); err == nil {
		t.Fatalf("transient failure must be reported")
	}

	// the buffered fill is flushed in the background
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if proc.callCount() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("buffered fill never retried, calls %d", proc.callCount())
}

func TestProcessFinalErrorsNotRetried(t *testing.T) {
	proc := &scriptedProc{errs: []error{models.ErrDuplicateTradeRef, models.ErrTerminalOrder}}
	p := NewFillPipeline(proc, nopMetrics{})
	p.Start(context.Background())
	defer p.Stop()

	if err := p.Process(context.Background(), goodFill("t1")); !errors.Is(err, models.ErrDuplicateTradeRef) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := p.Process(context.Background(), goodFill("t2")); !errors.Is(err, models.ErrTerminalOrder) {
		t.Fatalf("expected terminal error, got %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if proc.callCount() != 2 {
		t.Fatalf("final errors must not requeue, calls %d", proc.callCount())
	}
}

func TestOverflowSpills(t *testing.T) {
	proc := &scriptedProc{errs: []error{errors.New("down"), errors.New("down")}}
	var spilled []*models.Fill
	var mu sync.Mutex
	p := NewFillPipeline(proc, nopMetrics{},
		WithBufferSize(1),
		WithOverflow(func(ctx context.Context, f *models.Fill) error {
			mu.Lock()
			spilled = append(spilled, f)
			mu.Unlock()
			return nil
		}),
	)
	// not started: the buffer is never drained, so the second requeue spills

	_ = p.Process(context.Background(), goodFill("t1"))
	_ = p.Process(context.Background(), goodFill("t2"))

	mu.Lock()
	defer mu.Unlock()
	if len(spilled) != 1 {
		t.Fatalf("spilled %d fills, want 1", len(spilled))
	}
	if spilled[0].ExchangeTradeRef != "t2" {
		t.Fatalf("wrong fill spilled: %s", spilled[0].ExchangeTradeRef)
	}
}

func TestOverflowRetriedUntilAccepted(t *testing.T) {
	proc := &scriptedProc{errs: []error{errors.New("down"), errors.New("down")}}
	var mu sync.Mutex
	var attempts int
	var spilled []*models.Fill
	p := NewFillPipeline(proc, nopMetrics{},
		WithBufferSize(1),
		WithOverflow(func(ctx context.Context, f *models.Fill) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("queue down")
			}
			spilled = append(spilled, f)
			return nil
		}),
	)
	// not started: the first fill occupies the buffer, the second spills

	_ = p.Process(context.Background(), goodFill("t1"))
	_ = p.Process(context.Background(), goodFill("t2"))

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("overflow attempts %d, want 3", attempts)
	}
	if len(spilled) != 1 || spilled[0].ExchangeTradeRef != "t2" {
		t.Fatalf("spilled %+v", spilled)
	}
}
