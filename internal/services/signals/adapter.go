package signals

import (
	"context"
	"sync"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

// SourceAdapter produces one signal per evaluation cycle. A nil signal
// with nil error means the source has no opinion this cycle.
type SourceAdapter interface {
	Source() models.SignalSource
	Generate(ctx context.Context, symbol string, tf drepo.Timeframe) (*models.Signal, error)
}

// Offerer receives produced signals, satisfied by the signal collector.
type Offerer interface {
	Offer(ctx context.Context, s models.Signal)
}

// RunnerConfig bounds each source's evaluation.
type RunnerConfig struct {
	SourceTimeout time.Duration
	Interval      time.Duration
	Symbols       []string
	Timeframe     drepo.Timeframe
}

// Runner fans symbol evaluations out across all adapters concurrently.
// A slow or failing source never delays the others; the collection
// window downstream decides how long to wait for stragglers.
type Runner struct {
	cfg      RunnerConfig
	adapters []SourceAdapter
	out      Offerer
	metrics  drepo.Metrics
	logger   *logger.Logger
}

// NewRunner creates a runner over the given adapters.
func NewRunner(cfg RunnerConfig, adapters []SourceAdapter, out Offerer, metrics drepo.Metrics, lgr *logger.Logger) *Runner {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 3 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = drepo.DefaultTimeframe()
	}
	return &Runner{cfg: cfg, adapters: adapters, out: out, metrics: metrics, logger: lgr}
}

// Run evaluates every symbol on the configured interval until ctx is
// done. The first cycle starts immediately.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	for _, symbol := range r.cfg.Symbols {
		r.Evaluate(ctx, symbol, r.cfg.Timeframe)
	}
}

// Evaluate asks every adapter for its opinion on symbol concurrently
// and offers the results downstream as they arrive.
func (r *Runner) Evaluate(ctx context.Context, symbol string, tf drepo.Timeframe) {
	var wg sync.WaitGroup
	for _, a := range r.adapters {
		wg.Add(1)
		go func(a SourceAdapter) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
			defer cancel()

			s, err := a.Generate(sctx, symbol, tf)
			if err != nil {
				r.metrics.RecordError("source_" + string(a.Source()))
				r.logger.Warn("signal source failed",
					logger.String("source", string(a.Source())),
					logger.String("symbol", symbol),
					logger.Error(err))
				return
			}
			if s == nil {
				return
			}
			r.out.Offer(ctx, *s)
		}(a)
	}
	wg.Wait()
}
