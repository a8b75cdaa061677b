package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"RegimeFolio/internal/domain/models"
	domrepo "RegimeFolio/internal/domain/repository"
	domsvc "RegimeFolio/internal/domain/service"
	"RegimeFolio/pkg/cache"
	"RegimeFolio/pkg/logger"
)

// AnalysisPipeline runs the full batch: load market data, extract
// features, detect regimes, solve the allocation grid, backtest, then
// persist and announce the results.
type AnalysisPipeline struct {
	market    domrepo.MarketStore
	results   domrepo.ResultStore
	publisher domrepo.Publisher
	metrics   domrepo.Metrics
	cache     cache.Service

	extractor domsvc.FeatureExtractor
	detector  domsvc.RegimeDetector
	optimizer domsvc.PortfolioOptimizer
	backtest  domsvc.BacktestEngine

	benchmark string
	log       *logger.Logger
}

type PipelineDeps struct {
	Market    domrepo.MarketStore
	Results   domrepo.ResultStore
	Publisher domrepo.Publisher
	Metrics   domrepo.Metrics
	Cache     cache.Service

	Extractor domsvc.FeatureExtractor
	Detector  domsvc.RegimeDetector
	Optimizer domsvc.PortfolioOptimizer
	Backtest  domsvc.BacktestEngine

	Benchmark string
	Log       *logger.Logger
}

func NewAnalysisPipeline(d PipelineDeps) *AnalysisPipeline {
	return &AnalysisPipeline{
		market:    d.Market,
		results:   d.Results,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		cache:     d.Cache,
		extractor: d.Extractor,
		detector:  d.Detector,
		optimizer: d.Optimizer,
		backtest:  d.Backtest,
		benchmark: d.Benchmark,
		log:       d.Log,
	}
}

// PipelineSummary reports what one run produced.
type PipelineSummary struct {
	RunID       string
	Regimes     int
	Allocations int
	FailedCells int
	Days        int
	Took        time.Duration
}

// Run executes the pipeline over the store's full history.
func (p *AnalysisPipeline) Run(ctx context.Context) (*PipelineSummary, error) {
	runID := uuid.NewString()
	started := time.Now()
	log := p.log

	summary, err := p.run(ctx, runID)
	status := "ok"
	if err != nil {
		status = "failed"
		log.Error("pipeline run failed", logger.String("run_id", runID), logger.Error(err))
	}
	if p.metrics != nil {
		p.metrics.RecordPipelineRun(status, time.Since(started).Seconds())
	}
	if err != nil {
		return nil, err
	}

	summary.Took = time.Since(started)
	log.Info("pipeline run finished",
		logger.String("run_id", runID),
		logger.Int("regimes", summary.Regimes),
		logger.Int("allocations", summary.Allocations),
		logger.Int("failed_cells", summary.FailedCells),
		logger.Duration("took", summary.Took),
	)
	return summary, nil
}

func (p *AnalysisPipeline) run(ctx context.Context, runID string) (*PipelineSummary, error) {
	var zero time.Time
	now := time.Now()

	tickers, err := p.market.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("universe is empty: %w", models.ErrInsufficientData)
	}

	prices, err := p.market.GetPrices(ctx, tickers, zero, now)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	returns, err := p.market.GetReturns(ctx, tickers, zero, now)
	if err != nil {
		return nil, fmt.Errorf("load returns: %w", err)
	}
	benchmark, err := p.market.GetBenchmarkReturns(ctx, p.benchmark, zero, now)
	if err != nil {
		return nil, fmt.Errorf("load benchmark: %w", err)
	}

	features, err := p.loadFeatures(ctx, prices, returns, benchmark, zero, now)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}

	// remember the previous latest regime before overwriting
	var prevLatest = -1
	if prev, err := p.results.LoadRegimeLabels(ctx); err == nil && prev != nil && len(prev.Smoothed) > 0 {
		prevLatest = prev.Smoothed[len(prev.Smoothed)-1]
	}

	labels, err := p.detector.Detect(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("detect regimes: %w", err)
	}
	profiles, err := p.detector.Profile(labels, benchmark, features)
	if err != nil {
		return nil, fmt.Errorf("profile regimes: %w", err)
	}

	grid, err := p.optimizer.Optimize(ctx, returns, labels)
	if err != nil {
		return nil, fmt.Errorf("optimize grid: %w", err)
	}

	bt, err := p.backtest.Run(ctx, returns, benchmark, labels, grid)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	if err := p.results.StoreRegimeLabels(ctx, labels); err != nil {
		return nil, fmt.Errorf("store labels: %w", err)
	}
	if err := p.results.StoreRegimeProfiles(ctx, profiles); err != nil {
		return nil, fmt.Errorf("store regime profiles: %w", err)
	}
	if err := p.results.StoreAllocations(ctx, grid); err != nil {
		return nil, fmt.Errorf("store allocations: %w", err)
	}
	if err := p.results.StoreBacktest(ctx, bt); err != nil {
		return nil, fmt.Errorf("store backtest: %w", err)
	}

	// stale view responses are invalid the moment new results land
	if p.cache != nil {
		if err := p.cache.DeleteByPattern(ctx, "views:*"); err != nil {
			p.log.Warn("cache invalidation failed", logger.Error(err))
		}
	}

	p.announce(ctx, runID, labels, grid)

	return &PipelineSummary{
		RunID:       runID,
		Regimes:     labels.K,
		Allocations: len(grid.Allocations),
		FailedCells: len(grid.Failed),
		Days:        len(labels.Dates),
	}, p.maybePublishRegimeChange(ctx, runID, prevLatest, labels)
}

// loadFeatures prefers the curated feature table when it covers the
// return history, falling back to extraction from raw prices when the
// table is absent, empty or stale.
func (p *AnalysisPipeline) loadFeatures(ctx context.Context, prices []models.PriceBar,
	returns, benchmark *models.ReturnTable, from, to time.Time) (*models.FeatureMatrix, error) {

	stored, err := p.market.GetFeatureMatrix(ctx, from, to)
	switch {
	case err != nil:
		p.log.Warn("stored features unavailable, extracting from prices", logger.Error(err))
	case storedFeaturesFresh(stored, returns):
		p.log.Info("using stored feature matrix",
			logger.Int("rows", stored.Rows()),
			logger.Int("features", stored.Cols()),
		)
		return stored, nil
	default:
		p.log.Info("stored features stale or empty, extracting from prices")
	}
	return p.extractor.Extract(ctx, prices, benchmark)
}

// storedFeaturesFresh reports whether the stored matrix reaches the
// last available return date.
func storedFeaturesFresh(features *models.FeatureMatrix, returns *models.ReturnTable) bool {
	if features == nil || features.Rows() == 0 || len(returns.Dates) == 0 {
		return false
	}
	lastFeature := features.Dates[len(features.Dates)-1]
	lastReturn := returns.Dates[len(returns.Dates)-1]
	return !lastFeature.Before(lastReturn)
}

func (p *AnalysisPipeline) announce(ctx context.Context, runID string, labels *models.RegimeLabels, grid *models.OptimizationResult) {
	if p.publisher == nil {
		return
	}
	e := &models.AnalysisCompletedEvent{
		RunID:       runID,
		CompletedAt: time.Now(),
		Regimes:     labels.K,
		Allocations: len(grid.Allocations),
		FailedCells: len(grid.Failed),
	}
	if err := p.publisher.PublishAnalysisCompleted(ctx, e); err != nil {
		p.log.Warn("publish analysis.completed failed", logger.Error(err))
	}
}

func (p *AnalysisPipeline) maybePublishRegimeChange(ctx context.Context, runID string, prev int, labels *models.RegimeLabels) error {
	if p.publisher == nil || prev < 0 || len(labels.Smoothed) == 0 {
		return nil
	}
	latest := labels.Smoothed[len(labels.Smoothed)-1]
	if latest == prev {
		return nil
	}
	e := &models.RegimeChangedEvent{
		RunID:     runID,
		Date:      labels.Dates[len(labels.Dates)-1],
		Previous:  prev,
		Current:   latest,
		EmittedAt: time.Now(),
	}
	if err := p.publisher.PublishRegimeChanged(ctx, e); err != nil {
		p.log.Warn("publish regime.changed failed", logger.Error(err))
	}
	return nil
}
