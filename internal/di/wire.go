//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"TradePilot/pkg/config"
	"TradePilot/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,
		ProvideRedisClient,

		// Repositories
		ProvideTradeStore,
		ProvideCandleSource,
		ProvideEventSink,
		ProvideQuoteCache,

		// Use cases
		ProvideMarketView,
		ProvidePositionLedger,
		ProvideFusionEngine,
		ProvideSignalCollector,
		ProvideRiskValidator,
		ProvideOrderRouter,
		ProvideVenues,
		ProvideOrderTracker,
		ProvideJobQueue,
		ProvideFillPipeline,
		ProvideTradeExecutor,
		ProvideTickHandler,

		// Signal sources
		ProvideSignalAdapters,
		ProvideSignalRunner,

		// HTTP surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
