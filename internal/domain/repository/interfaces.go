package repository

import (
	"context"
	"time"

	"RegimeFolio/internal/domain/models"
)

// MarketStore provides read-only access to the curated market tables.
type MarketStore interface {
	GetFeatureMatrix(ctx context.Context, from, to time.Time) (*models.FeatureMatrix, error)
	GetReturns(ctx context.Context, tickers []string, from, to time.Time) (*models.ReturnTable, error)
	GetBenchmarkReturns(ctx context.Context, ticker string, from, to time.Time) (*models.ReturnTable, error)
	GetPrices(ctx context.Context, tickers []string, from, to time.Time) ([]models.PriceBar, error)
	Tickers(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
	Close() error
}

// ResultStore persists pipeline outputs. Each Store* call replaces the
// previous run's rows wholesale so readers only ever see one run.
type ResultStore interface {
	Init(ctx context.Context) error // ensure tables
	StoreRegimeLabels(ctx context.Context, labels *models.RegimeLabels) error
	StoreRegimeProfiles(ctx context.Context, profiles []models.RegimeProfile) error
	StoreAllocations(ctx context.Context, result *models.OptimizationResult) error
	StoreBacktest(ctx context.Context, result *models.BacktestResult) error

	LoadRegimeLabels(ctx context.Context) (*models.RegimeLabels, error)
	LoadRegimeProfiles(ctx context.Context) ([]models.RegimeProfile, error)
	LoadAllocations(ctx context.Context) (*models.OptimizationResult, error)
	LoadBacktest(ctx context.Context) (*models.BacktestResult, error)

	Health(ctx context.Context) error
	Close() error
}

// Publisher emits pipeline lifecycle events.
type Publisher interface {
	PublishAnalysisCompleted(ctx context.Context, e *models.AnalysisCompletedEvent) error
	PublishRegimeChanged(ctx context.Context, e *models.RegimeChangedEvent) error
	Close() error
}

// Metrics is the pipeline-side recording surface.
type Metrics interface {
	RecordPipelineRun(status string, seconds float64)
	RecordGridCell(status string)
	RecordSolverDuration(seconds float64)
	RecordRegimeCount(k int)
	RecordError(kind string)
}
