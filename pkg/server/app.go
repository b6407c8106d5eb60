package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/internal/middleware"
	"TradePilot/internal/services/signals"
	"TradePilot/internal/usecase"
	"TradePilot/pkg/config"
	xhttp "TradePilot/pkg/http"
	pkgkafka "TradePilot/pkg/kafka"
	applogger "TradePilot/pkg/logger"
	"TradePilot/pkg/queue"
)

// App encapsulates the entire application lifecycle: signal sources,
// fusion, execution, fill ingestion, tick consumption, and the
// operational HTTP surface.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	store       drepo.OrderStore
	sink        drepo.EventSink
	collector   *usecase.SignalCollector
	runner      *signals.Runner
	executor    *usecase.TradeExecutor
	tracker     *usecase.OrderTracker
	pipeline    *middleware.FillPipeline
	venues      map[string]drepo.ExchangeAdapter
	consumer    *pkgkafka.Consumer
	tickHandler *usecase.TickHandler
	jobQueue    *queue.RedisQueue
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	store drepo.OrderStore,
	sink drepo.EventSink,
	collector *usecase.SignalCollector,
	runner *signals.Runner,
	executor *usecase.TradeExecutor,
	tracker *usecase.OrderTracker,
	pipeline *middleware.FillPipeline,
	venues map[string]drepo.ExchangeAdapter,
	consumer *pkgkafka.Consumer,
	tickHandler *usecase.TickHandler,
	jobQueue *queue.RedisQueue,
) *App {
	return &App{
		cfg:         cfg,
		logger:      lgr,
		store:       store,
		sink:        sink,
		collector:   collector,
		runner:      runner,
		executor:    executor,
		tracker:     tracker,
		pipeline:    pipeline,
		venues:      venues,
		consumer:    consumer,
		tickHandler: tickHandler,
		jobQueue:    jobQueue,
	}
}

// SetHTTPHandler allows DI to inject the HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.store.Init(ctx); err != nil {
		a.logger.Error("audit store init", applogger.Error(err))
		return err
	}

	// Fill ingestion: pipeline in front of the tracker, fed by every
	// venue's stream.
	a.pipeline.Start(ctx)
	for name, venue := range a.venues {
		fills, errs := venue.StreamFills(ctx, "")
		go a.consumeFills(ctx, name, fills, errs)
	}
	a.logger.Info("fill streams started", applogger.Int("venues", len(a.venues)))

	// Tick consumption from Kafka into the quote cache.
	if a.consumer != nil && a.tickHandler != nil {
		a.consumer.RegisterHandler(a.tickHandler)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("tick consumer started", applogger.String("topic", a.tickHandler.Topic()))
	}

	// Spilled-fill replay queue.
	if a.jobQueue != nil {
		if err := a.jobQueue.Start(); err != nil {
			a.logger.Warn("fill replay queue start failed", applogger.Error(err))
		}
	}

	// Execution drains fused signals; sources feed the collector.
	go a.executor.Run(ctx, a.collector.Fused())
	go a.runner.Run(ctx)
	a.logger.Info("trading loop started",
		applogger.Strings("symbols", a.cfg.Trading.Symbols),
		applogger.String("timeframe", a.cfg.Trading.Timeframe))

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.logger),
	)
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// consumeFills forwards one venue's fill stream into the pipeline.
func (a *App) consumeFills(ctx context.Context, venue string, fills <-chan *models.Fill, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fills:
			if !ok {
				return
			}
			if err := a.pipeline.Process(ctx, f); err != nil {
				a.logger.Warn("fill rejected",
					applogger.String("venue", venue), applogger.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil // stop selecting a closed channel
				continue
			}
			if err != nil {
				a.logger.Warn("fill stream error",
					applogger.String("venue", venue), applogger.Error(err))
			}
		}
	}
}

// shutdown gracefully stops all services, newest consumers first so
// in-flight fills drain before their sinks close.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.collector.Stop()
	a.pipeline.Stop()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.jobQueue != nil {
		if err := a.jobQueue.Stop(shutdownCtx); err != nil {
			a.logger.Warn("fill replay queue stop error", applogger.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("event sink close error", applogger.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("audit store close error", applogger.Error(err))
	}

	a.logger.Info("shutdown complete")
	return nil
}
