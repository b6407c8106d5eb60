package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"TradePilot/internal/domain/models"
	"TradePilot/internal/domain/repository"
	"TradePilot/internal/handler/api"
	mid "TradePilot/internal/middleware"
	internalrepo "TradePilot/internal/repository"
	"TradePilot/internal/service/exchange"
	"TradePilot/internal/service/ratelimit"
	"TradePilot/internal/services/indicators"
	"TradePilot/internal/services/jobs"
	"TradePilot/internal/services/signals"
	"TradePilot/internal/usecase"
	"TradePilot/pkg/cache"
	pkgch "TradePilot/pkg/clickhouse"
	"TradePilot/pkg/config"
	xhttp "TradePilot/pkg/http"
	pkgkafka "TradePilot/pkg/kafka"
	applogger "TradePilot/pkg/logger"
	"TradePilot/pkg/metrics"
	"TradePilot/pkg/queue"
	"TradePilot/pkg/server"
)

// ProvideLogger creates the application logger. When an error topic is
// configured, repeated error logs are deduplicated and shipped to
// Kafka in batches.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	lgr, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Logging.ErrorTopic != "" {
		lgr.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.FlushInterval,
			CountThreshold: cfg.Logging.CountThreshold,
			Topic:          cfg.Logging.ErrorTopic,
			Publisher:      logPublisher{producer},
		})
	}
	return lgr, nil
}

// logPublisher adapts the Kafka producer to the log collector's
// publisher contract.
type logPublisher struct {
	producer *pkgkafka.Producer
}

func (p logPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideTradeStore creates the ClickHouse audit store.
func ProvideTradeStore(chClient *pkgch.Client) repository.OrderStore {
	return internalrepo.NewTradeStore(chClient)
}

// ProvideCandleSource creates the ClickHouse candle reader with its
// schema ready.
func ProvideCandleSource(chClient *pkgch.Client) (repository.CandleSource, error) {
	store := internalrepo.NewCandleStore(chClient)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("candle schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventSink creates the Kafka event sink.
func ProvideEventSink(producer *pkgkafka.Producer, cfg *config.Config, m repository.Metrics, lgr *applogger.Logger) repository.EventSink {
	return internalrepo.NewEventSink(producer, cfg.Kafka.EventTopic, m, lgr)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
// A lifecycle hook feeds consume latency and failures into metrics.
func ProvideKafkaConsumer(cfg *config.Config, m repository.Metrics, lgr *applogger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerLogger(lgr),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafkago.Message, data []byte) (context.Context, kafkago.Message, []byte, error) {
			return pkgkafka.MarkStart(ctx), km, data, nil
		},
		After: func(ctx context.Context, topic string, _ kafkago.Message, _ []byte, _ error) {
			if start, ok := pkgkafka.StartTime(ctx); ok {
				m.RecordLatency("consume_"+topic, time.Since(start).Seconds())
			}
		},
		Err: func(_ context.Context, topic string, _ kafkago.Message, _ []byte, _ error) {
			m.RecordError("consume_" + topic)
		},
	})
	return consumer, nil
}

// ProvideRedisCache creates the shared Redis cache client.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	c, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideRedisClient exposes the raw client for the job queue.
func ProvideRedisClient(c *cache.RedisCache) *redis.Client {
	return c.Client()
}

// ProvideQuoteCache creates the quote cache, memory in front of Redis
// since the router re-reads the same hot symbols every decision.
func ProvideQuoteCache(c *cache.RedisCache) repository.QuoteCache {
	layered := cache.NewLayeredCache(c, cache.WithLayeredMemorySize(4096))
	return internalrepo.NewQuoteCache(layered, time.Minute)
}

// ProvideMarketView creates the cached-quote read model.
func ProvideMarketView(quotes repository.QuoteCache, cfg *config.Config) *usecase.MarketView {
	names := make([]string, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		names = append(names, v.Name)
	}
	return usecase.NewMarketView(quotes, names, cfg.Router.QuoteMaxAge, repository.SystemClock{})
}

// ProvidePositionLedger creates the ledger seeded with the configured
// account.
func ProvidePositionLedger(cfg *config.Config, m repository.Metrics, lgr *applogger.Logger) *usecase.PositionLedger {
	l := usecase.NewPositionLedger(m, lgr, repository.SystemClock{})
	l.SeedAccount(cfg.Account.ID, cfg.Account.Equity, cfg.Account.Balance)
	return l
}

// ProvideFusionEngine creates the fusion engine from config.
func ProvideFusionEngine(cfg *config.Config) *usecase.FusionEngine {
	weights := make(map[models.SignalSource]float64, len(cfg.Fusion.Weights))
	for src, w := range cfg.Fusion.Weights {
		weights[models.SignalSource(src)] = w
	}
	if len(weights) == 0 {
		weights = map[models.SignalSource]float64{
			models.SourceTechnical:  1.0,
			models.SourceSentiment:  0.5,
			models.SourcePattern:    0.7,
			models.SourcePredictive: 0.8,
		}
	}
	return usecase.NewFusionEngine(usecase.FusionConfig{
		Weights:       weights,
		MinConfidence: cfg.Fusion.MinConfidence,
	})
}

// ProvideSignalCollector creates the collection-window stage.
func ProvideSignalCollector(engine *usecase.FusionEngine, cfg *config.Config, sink repository.EventSink, m repository.Metrics, lgr *applogger.Logger) *usecase.SignalCollector {
	return usecase.NewSignalCollector(engine, cfg.Trading.WindowTimeout, sink, m, lgr)
}

// ProvideRiskValidator creates the validator with a realized-vol
// estimator over recent candles.
func ProvideRiskValidator(cfg *config.Config, market *usecase.MarketView, candles repository.CandleSource, engine *usecase.FusionEngine, m repository.Metrics, lgr *applogger.Logger) *usecase.RiskValidator {
	tf := repository.NormalizeTimeframe(cfg.Trading.Timeframe)
	volOf := func(ctx context.Context, symbol string) float64 {
		series, err := candles.GetLatestNCandles(ctx, symbol, 60, tf)
		if err != nil {
			return 0
		}
		returns := indicators.LogReturns(series)
		return indicators.RealizedVolatility(returns, 30, indicators.BarsPerYearForTF(tf))
	}
	return usecase.NewRiskValidator(usecase.RiskConfig{
		RiskFraction:         cfg.Risk.RiskFraction,
		DefaultStopDistance:  cfg.Risk.StopDistance,
		MaxPositionSizePct:   cfg.Risk.MaxPositionSizePct,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxCorrelatedPct:     cfg.Risk.MaxCorrelatedPct,
		MaxVolumeFraction:    cfg.Risk.MaxVolumeFraction,
		RiskRewardRatio:      cfg.Risk.RiskRewardRatio,
		VolatilityThreshold:  cfg.Risk.VolatilityThreshold,
		ConfidenceSoftMargin: cfg.Risk.ConfidenceSoftMargin,
		Correlations:         cfg.Risk.Correlations,
	}, market, volOf, engine.MinConfidence(), m, lgr)
}

// ProvideOrderRouter creates the venue router.
func ProvideOrderRouter(cfg *config.Config, market *usecase.MarketView, m repository.Metrics, lgr *applogger.Logger) *usecase.OrderRouter {
	return usecase.NewOrderRouter(usecase.RouterConfig{
		SlippageTolerance: cfg.Router.SlippageTolerance,
		MinSliceQuantity:  cfg.Router.MinSliceQuantity,
		VenueRateCapacity: cfg.Router.VenueRateCapacity,
		VenueRateRefill:   cfg.Router.VenueRateRefill,
	}, market, ratelimit.New(), m, lgr)
}

// ProvideVenues builds the exchange adapters from config.
func ProvideVenues(cfg *config.Config, market *usecase.MarketView, lgr *applogger.Logger) map[string]repository.ExchangeAdapter {
	venues := make(map[string]repository.ExchangeAdapter, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		switch vc.Mode {
		case "live":
			client := xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
			venues[vc.Name] = exchange.NewLive(exchange.LiveConfig{
				Name:           vc.Name,
				BaseURL:        vc.BaseURL,
				WebsocketURL:   vc.WebsocketURL,
				APIKey:         vc.APIKey,
				ReconnectDelay: vc.ReconnectDelay,
				PingInterval:   vc.PingInterval,
			}, client, lgr)
		default:
			venues[vc.Name] = exchange.NewPaper(vc.Name, vc.FeeRate, market.LastPrice)
		}
	}
	return venues
}

// ProvideOrderTracker creates the lifecycle tracker.
func ProvideOrderTracker(venues map[string]repository.ExchangeAdapter, store repository.OrderStore, sink repository.EventSink, ledger *usecase.PositionLedger, m repository.Metrics, lgr *applogger.Logger) *usecase.OrderTracker {
	return usecase.NewOrderTracker(usecase.TrackerConfig{}, venues, store, sink, ledger, m, lgr)
}

// ProvideJobQueue creates the Redis queue with the fill replay job.
func ProvideJobQueue(lgr *applogger.Logger, client *redis.Client, tracker *usecase.OrderTracker) *queue.RedisQueue {
	q := queue.NewRedisQueue(lgr, &queue.QueueConfig{
		Workers:    1,
		RetryLimit: 5,
		RetryDelay: 5 * time.Second,
	}, client)
	q.RegisterJob(jobs.NewFillReplayJob(tracker, lgr))
	return q
}

// ProvideFillPipeline creates the fill pipeline spilling to the queue.
func ProvideFillPipeline(tracker *usecase.OrderTracker, m repository.Metrics, q *queue.RedisQueue) *mid.FillPipeline {
	return mid.NewFillPipeline(tracker, m,
		mid.WithBufferSize(2000),
		mid.WithOverflow(jobs.SpillTo(q)),
	)
}

// ProvideTradeExecutor creates the executor for the configured account.
func ProvideTradeExecutor(cfg *config.Config, ledger *usecase.PositionLedger, risk *usecase.RiskValidator, router *usecase.OrderRouter, tracker *usecase.OrderTracker, store repository.OrderStore, sink repository.EventSink, m repository.Metrics, lgr *applogger.Logger) *usecase.TradeExecutor {
	return usecase.NewTradeExecutor(usecase.ExecutorConfig{
		AccountID: cfg.Account.ID,
		Policy:    usecase.PartialPolicy(cfg.Trading.PartialPolicy),
	}, ledger, risk, router, tracker, ledger, store, sink, m, lgr)
}

// ProvideTickHandler creates the Kafka tick handler.
func ProvideTickHandler(cfg *config.Config, quotes repository.QuoteCache, ledger *usecase.PositionLedger, executor *usecase.TradeExecutor, m repository.Metrics, lgr *applogger.Logger) *usecase.TickHandler {
	return usecase.NewTickHandler(cfg.Kafka.TickTopic, quotes, ledger, executor, m, lgr)
}

// ProvideSignalAdapters builds the configured signal sources. External
// sources are optional: without a base URL they simply do not run.
func ProvideSignalAdapters(candles repository.CandleSource, cfg *config.Config) []signals.SourceAdapter {
	adapters := []signals.SourceAdapter{
		signals.NewTechnicalAdapter(candles),
		signals.NewPatternAdapter(candles),
	}
	if cfg.Sentiment.BaseURL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Sentiment.Timeout))
		adapters = append(adapters, signals.NewSentimentAdapter(client, cfg.Sentiment.BaseURL, cfg.Sentiment.APIKey))
	}
	if cfg.Predictive.BaseURL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Predictive.Timeout))
		adapters = append(adapters, signals.NewPredictiveAdapter(client, cfg.Predictive.BaseURL))
	}
	return adapters
}

// ProvideSignalRunner creates the source fan-out runner.
func ProvideSignalRunner(cfg *config.Config, adapters []signals.SourceAdapter, collector *usecase.SignalCollector, m repository.Metrics, lgr *applogger.Logger) *signals.Runner {
	return signals.NewRunner(signals.RunnerConfig{
		SourceTimeout: cfg.Trading.SourceTimeout,
		Interval:      cfg.Trading.EvalInterval,
		Symbols:       cfg.Trading.Symbols,
		Timeframe:     repository.NormalizeTimeframe(cfg.Trading.Timeframe),
	}, adapters, collector, m, lgr)
}

// ProvideHTTPHandler creates the operational API handler.
func ProvideHTTPHandler(lgr *applogger.Logger, store repository.OrderStore, ledger *usecase.PositionLedger, tracker *usecase.OrderTracker, cfg *config.Config) xhttp.Handler {
	return api.NewTradingHandler(lgr, store, ledger, tracker, cfg.Account.ID)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	store repository.OrderStore,
	sink repository.EventSink,
	collector *usecase.SignalCollector,
	runner *signals.Runner,
	executor *usecase.TradeExecutor,
	tracker *usecase.OrderTracker,
	pipeline *mid.FillPipeline,
	venues map[string]repository.ExchangeAdapter,
	consumer *pkgkafka.Consumer,
	tickHandler *usecase.TickHandler,
	jobQueue *queue.RedisQueue,
	httpHandler xhttp.Handler,
) *server.App {
	app := server.New(cfg, lgr, store, sink, collector, runner, executor, tracker, pipeline, venues, consumer, tickHandler, jobQueue)
	app.SetHTTPHandler(httpHandler)
	return app
}
