package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"RegimeFolio/internal/domain/repository"
	"RegimeFolio/internal/handler/api"
	internalrepo "RegimeFolio/internal/repository"
	"RegimeFolio/internal/services/backtest"
	"RegimeFolio/internal/services/features"
	"RegimeFolio/internal/services/portfolio"
	"RegimeFolio/internal/services/regime"
	"RegimeFolio/internal/usecase"
	"RegimeFolio/pkg/cache"
	pkgch "RegimeFolio/pkg/clickhouse"
	"RegimeFolio/pkg/config"
	pkgkafka "RegimeFolio/pkg/kafka"
	"RegimeFolio/pkg/logger"
	"RegimeFolio/pkg/metrics"
	"RegimeFolio/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := &logger.Config{Level: "info", Format: "json", Output: "stdout"}
	if cfg.Environment == "development" {
		lc.Format = "console"
		lc.Level = "debug"
	}
	l, err := logger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideMarketStore creates the ClickHouse market data repository.
func ProvideMarketStore(chClient *pkgch.Client, l *logger.Logger) repository.MarketStore {
	return internalrepo.NewCHMarketStore(chClient, l)
}

// ProvideResultStore creates the ClickHouse result repository and
// initializes its schema.
func ProvideResultStore(chClient *pkgch.Client, l *logger.Logger) (repository.ResultStore, error) {
	store := internalrepo.NewCHResultStore(chClient, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("result schema: %w", err)
	}
	return store, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the Kafka event publisher, or nil when Kafka
// is disabled.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config, l *logger.Logger) repository.Publisher {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaPublisher(producer, cfg.Kafka.EventsTopic, l)

	// Repeated error logs are batched onto the events topic instead of
	// flooding it one message per occurrence.
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.EventsTopic,
		Publisher:      pub,
	})
	return pub
}

// ProvideKafkaConsumer creates the recompute trigger consumer, or nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideCache creates the Redis view cache, or nil when caching is
// disabled.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	host, portStr, err := net.SplitHostPort(cfg.Cache.Addr)
	if err != nil {
		return nil, fmt.Errorf("cache addr %q: %w", cfg.Cache.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("cache port %q: %w", portStr, err)
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Password),
		cache.WithRedisDB(cfg.Cache.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}

	// In-process layer in front of Redis keeps hot view reads local.
	return cache.NewLayeredCache(rc), nil
}

// ProvideExtractor creates the market feature extractor.
func ProvideExtractor(cfg *config.Config, l *logger.Logger) *features.Extractor {
	return features.NewExtractor(cfg.Analysis, l)
}

// ProvideDetector creates the regime detector.
func ProvideDetector(cfg *config.Config, l *logger.Logger, m repository.Metrics) *regime.Detector {
	return regime.NewDetector(cfg.Analysis, l, m)
}

// ProvideOptimizer creates the allocation grid optimizer.
func ProvideOptimizer(cfg *config.Config, l *logger.Logger, m repository.Metrics) *portfolio.Optimizer {
	return portfolio.NewOptimizer(cfg.Analysis, l, m)
}

// ProvideBacktestEngine creates the backtest engine.
func ProvideBacktestEngine(cfg *config.Config, l *logger.Logger, m repository.Metrics) *backtest.Engine {
	return backtest.NewEngine(cfg.Backtest, l, m)
}

// ProvidePipeline assembles the analysis pipeline use case.
func ProvidePipeline(
	cfg *config.Config,
	market repository.MarketStore,
	results repository.ResultStore,
	publisher repository.Publisher,
	m repository.Metrics,
	c cache.Service,
	extractor *features.Extractor,
	detector *regime.Detector,
	optimizer *portfolio.Optimizer,
	engine *backtest.Engine,
	l *logger.Logger,
) *usecase.AnalysisPipeline {
	return usecase.NewAnalysisPipeline(usecase.PipelineDeps{
		Market:    market,
		Results:   results,
		Publisher: publisher,
		Metrics:   m,
		Cache:     c,
		Extractor: extractor,
		Detector:  detector,
		Optimizer: optimizer,
		Backtest:  engine,
		Benchmark: cfg.Backtest.Benchmark,
		Log:       l,
	})
}

// ProvideViews creates the read-side view layer over stored results.
func ProvideViews(cfg *config.Config, results repository.ResultStore, c cache.Service, l *logger.Logger) *usecase.AnalysisViews {
	return usecase.NewAnalysisViews(results, c, usecase.ViewTTL{
		Allocations: cfg.Cache.TTL.Allocations,
		Curves:      cfg.Cache.TTL.Curves,
		Monthly:     cfg.Cache.TTL.Monthly,
	}, l)
}

// ProvideRecomputeHandler registers the handler for recompute triggers.
func ProvideRecomputeHandler(cfg *config.Config, pipeline *usecase.AnalysisPipeline, m repository.Metrics, l *logger.Logger) *usecase.RecomputeHandler {
	return usecase.NewRecomputeHandler(cfg.Kafka.TriggerTopic, pipeline, m, l)
}

// ProvideAnalysisHandler creates the HTTP API handler.
func ProvideAnalysisHandler(l *logger.Logger, views *usecase.AnalysisViews) *api.AnalysisEchoHandler {
	return api.NewAnalysisEchoHandler(l, views)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	pipeline *usecase.AnalysisPipeline,
	handler *api.AnalysisEchoHandler,
	consumer *pkgkafka.Consumer,
	rh *usecase.RecomputeHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, pipeline, handler, consumer, rh, chClient, producer)
}
