package usecase

import (
	"context"
	"sync"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

// SignalCollector runs a bounded collection window per symbol/timeframe.
// The first signal for a key opens a window; when it elapses, whatever
// arrived is fused and the window closes. Signals arriving after the
// close are discarded for that cycle.
type SignalCollector struct {
	engine  *FusionEngine
	window  time.Duration
	out     chan *models.FusedSignal
	sink    drepo.EventSink
	metrics drepo.Metrics
	logger  *logger.Logger

	mu      sync.Mutex
	open    map[string]*collectionWindow
	stopped bool
}

type collectionWindow struct {
	signals []models.Signal
	timer   *time.Timer
}

// NewSignalCollector creates a collector with the given window duration.
func NewSignalCollector(engine *FusionEngine, window time.Duration, sink drepo.EventSink, metrics drepo.Metrics, lgr *logger.Logger) *SignalCollector {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &SignalCollector{
		engine:  engine,
		window:  window,
		out:     make(chan *models.FusedSignal, 64),
		sink:    sink,
		metrics: metrics,
		logger:  lgr,
		open:    make(map[string]*collectionWindow),
	}
}

// Fused returns the channel of actionable fused signals.
func (c *SignalCollector) Fused() <-chan *models.FusedSignal { return c.out }

// Offer adds a signal to the current window for its symbol/timeframe,
// opening one if none is active.
func (c *SignalCollector) Offer(ctx context.Context, s models.Signal) {
	key := s.Symbol + "|" + s.Timeframe

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.metrics.RecordSignal(string(s.Source), s.Symbol)

	w, ok := c.open[key]
	if !ok {
		w = &collectionWindow{}
		w.timer = time.AfterFunc(c.window, func() { c.flush(ctx, key) })
		c.open[key] = w
	}
	w.signals = append(w.signals, s)
}

// flush closes the window for key and fuses what arrived.
func (c *SignalCollector) flush(ctx context.Context, key string) {
	c.mu.Lock()
	w, ok := c.open[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.open, key)
	signals := w.signals
	stopped := c.stopped
	c.mu.Unlock()

	if stopped || len(signals) == 0 {
		return
	}

	start := time.Now()
	fused, err := c.engine.Fuse(signals)
	c.metrics.RecordLatency("fuse", time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordError("fusion_validate")
		c.logger.Error("fusion rejected input", logger.Error(err))
		return
	}

	symbol := signals[0].Symbol
	if fused == nil {
		c.metrics.RecordFusion(symbol, false)
		return
	}
	c.metrics.RecordFusion(symbol, true)

	if c.sink != nil {
		_ = c.sink.Emit(ctx, models.Event{
			Name:      models.EventSignalFused,
			Key:       fused.Symbol,
			Payload:   fused,
			EmittedAt: time.Now(),
		})
	}

	select {
	case c.out <- fused:
	default:
		c.metrics.RecordError("collector_backpressure")
	}
}

// Stop discards open windows and closes the output channel.
func (c *SignalCollector) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for key, w := range c.open {
		w.timer.Stop()
		delete(c.open, key)
	}
	c.mu.Unlock()
	close(c.out)
}
