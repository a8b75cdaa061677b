package service

import (
	"context"

	"RegimeFolio/internal/domain/models"
)

// RegimeDetector assigns a market regime to every trading day of a
// feature matrix.
type RegimeDetector interface {
	Detect(ctx context.Context, features *models.FeatureMatrix) (*models.RegimeLabels, error)
	Profile(labels *models.RegimeLabels, benchmark *models.ReturnTable, features *models.FeatureMatrix) ([]models.RegimeProfile, error)
}

// PortfolioOptimizer solves the (regime, appetite, horizon) grid over a
// return table conditioned on smoothed regime labels.
type PortfolioOptimizer interface {
	Optimize(ctx context.Context, returns *models.ReturnTable, labels *models.RegimeLabels) (*models.OptimizationResult, error)
}

// BacktestEngine simulates the regime-switching strategies against the
// benchmark and a fixed mix over a common date axis.
type BacktestEngine interface {
	Run(ctx context.Context, returns *models.ReturnTable, benchmark *models.ReturnTable,
		labels *models.RegimeLabels, allocations *models.OptimizationResult) (*models.BacktestResult, error)
}

// FeatureExtractor derives the detector's input matrix from raw prices
// and benchmark returns.
type FeatureExtractor interface {
	Extract(ctx context.Context, prices []models.PriceBar, benchmark *models.ReturnTable) (*models.FeatureMatrix, error)
}
