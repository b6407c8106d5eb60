package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TradePilot/internal/domain/models"
	domrepo "TradePilot/internal/domain/repository"
)

// FillProc is the minimal downstream interface the pipeline needs,
// satisfied by the order tracker.
type FillProc interface {
	IngestFill(ctx context.Context, f *models.Fill) error
}

// Overflow receives fills the in-memory buffer cannot hold. Fills are
// money: the pipeline spills rather than drops.
type Overflow func(ctx context.Context, f *models.Fill) error

// FillPipeline sits between the exchange fill stream and the lifecycle
// tracker. It validates, buffers when downstream errors, and retries
// with backoff. Nothing is throttled; every fill must land.
type FillPipeline struct {
	proc     FillProc
	metrics  domrepo.Metrics
	overflow Overflow
	bufSize  int
	bufCh    chan *models.Fill
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
}

type PipelineOption func(*FillPipeline)

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *FillPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithOverflow sets the spill destination for a full buffer.
func WithOverflow(fn Overflow) PipelineOption {
	return func(p *FillPipeline) { p.overflow = fn }
}

// NewFillPipeline creates a pipeline in front of proc.
func NewFillPipeline(proc FillProc, metrics domrepo.Metrics, opts ...PipelineOption) *FillPipeline {
	p := &FillPipeline{
		proc:    proc,
		metrics: metrics,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Fill, p.bufSize)
	return p
}

// Start launches background flushing of buffered fills.
func (p *FillPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case f := <-p.bufCh:
				if f == nil {
					continue
				}
				if err := p.proc.IngestFill(ctx, f); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("fill_pipeline_flush")
					time.Sleep(backoff)
					p.requeue(ctx, f)
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *FillPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and forwards one fill, buffering on downstream
// errors. Terminal-order and duplicate errors are final, not retried.
func (p *FillPipeline) Process(ctx context.Context, f *models.Fill) error {
	start := time.Now()
	if err := validateFill(f); err != nil {
		p.metrics.RecordError("fill_pipeline_validate")
		return err
	}

	if err := p.proc.IngestFill(ctx, f); err != nil {
		if isFinal(err) {
			return err
		}
		p.metrics.RecordError("fill_pipeline_process")
		p.requeue(ctx, f)
		return fmt.Errorf("fill pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("fill_pipeline_process", time.Since(start).Seconds())
	return nil
}

// overflowAttempts bounds in-place retries of a failing spill write.
const overflowAttempts = 3

func (p *FillPipeline) requeue(ctx context.Context, f *models.Fill) {
	select {
	case p.bufCh <- f:
		return
	default:
	}
	p.metrics.RecordError("fill_pipeline_buffer_full")

	// The spill is the fill's last stop before loss, so a failing
	// overflow write is retried in place before a drop is counted.
	delay := 50 * time.Millisecond
	for attempt := 1; p.overflow != nil; attempt++ {
		if err := p.overflow(ctx, f); err == nil {
			return
		}
		p.metrics.RecordError("fill_pipeline_overflow")
		if attempt >= overflowAttempts {
			break
		}
		select {
		case <-ctx.Done():
			p.metrics.RecordError("fill_pipeline_dropped")
			return
		case <-time.After(delay):
		}
		delay *= 2

		// the buffer may have drained while waiting
		select {
		case p.bufCh <- f:
			return
		default:
		}
	}
	p.metrics.RecordError("fill_pipeline_dropped")
}

func isFinal(err error) bool {
	return models.IsPermanent(err) ||
		errors.Is(err, models.ErrTerminalOrder) ||
		errors.Is(err, models.ErrFillExceedsOrder) ||
		errors.Is(err, models.ErrDuplicateTradeRef)
}

func validateFill(f *models.Fill) error {
	if f == nil {
		return fmt.Errorf("fill nil")
	}
	if f.OrderID == "" {
		return fmt.Errorf("order ref empty")
	}
	if f.ExchangeTradeRef == "" {
		return fmt.Errorf("trade ref empty")
	}
	if f.Quantity <= 0 || f.Price <= 0 {
		return fmt.Errorf("non-positive quantity/price")
	}
	return nil
}
