// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package di

import (
	"TradePilot/pkg/config"
	"TradePilot/pkg/server"
)

// Injectors from wire.go:

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := ProvideLogger(cfg, producer)
	if err != nil {
		return nil, err
	}
	client, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	orderStore := ProvideTradeStore(client)
	metrics := ProvideMetrics()
	eventSink := ProvideEventSink(producer, cfg, metrics, logger)
	fusionEngine := ProvideFusionEngine(cfg)
	signalCollector := ProvideSignalCollector(fusionEngine, cfg, eventSink, metrics, logger)
	candleSource, err := ProvideCandleSource(client)
	if err != nil {
		return nil, err
	}
	v := ProvideSignalAdapters(candleSource, cfg)
	runner := ProvideSignalRunner(cfg, v, signalCollector, metrics, logger)
	positionLedger := ProvidePositionLedger(cfg, metrics, logger)
	redisCache, err := ProvideRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	quoteCache := ProvideQuoteCache(redisCache)
	marketView := ProvideMarketView(quoteCache, cfg)
	riskValidator := ProvideRiskValidator(cfg, marketView, candleSource, fusionEngine, metrics, logger)
	orderRouter := ProvideOrderRouter(cfg, marketView, metrics, logger)
	v2 := ProvideVenues(cfg, marketView, logger)
	orderTracker := ProvideOrderTracker(v2, orderStore, eventSink, positionLedger, metrics, logger)
	tradeExecutor := ProvideTradeExecutor(cfg, positionLedger, riskValidator, orderRouter, orderTracker, orderStore, eventSink, metrics, logger)
	redisClient := ProvideRedisClient(redisCache)
	redisQueue := ProvideJobQueue(logger, redisClient, orderTracker)
	fillPipeline := ProvideFillPipeline(orderTracker, metrics, redisQueue)
	consumer, err := ProvideKafkaConsumer(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	tickHandler := ProvideTickHandler(cfg, quoteCache, positionLedger, tradeExecutor, metrics, logger)
	handler := ProvideHTTPHandler(logger, orderStore, positionLedger, orderTracker, cfg)
	app := ProvideApp(cfg, logger, orderStore, eventSink, signalCollector, runner, tradeExecutor, orderTracker, fillPipeline, v2, consumer, tickHandler, redisQueue, handler)
	return app, nil
}
