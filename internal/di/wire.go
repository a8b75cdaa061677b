//go:build wireinject
// +build wireinject

package di

import (
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/server"

	"github.com/google/wire"
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
		ProvideCache,

		// Repositories
		ProvideMarketStore,
		ProvideResultStore,
		ProvidePublisher,

		// Analysis services
		ProvideExtractor,
		ProvideDetector,
		ProvideOptimizer,
		ProvideBacktestEngine,

		// Use cases
		ProvidePipeline,
		ProvideViews,
		ProvideRecomputeHandler,

		// HTTP and application server
		ProvideAnalysisHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
