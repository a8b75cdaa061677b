package portfolio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/internal/domain/repository"
	domsvc "RegimeFolio/internal/domain/service"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
	"RegimeFolio/pkg/queue"
)

// Optimizer solves the full (regime, appetite, horizon) grid. Cells run
// on a bounded worker pool with a per-cell wall-clock budget; one cell
// failing or timing out never takes down the batch.
type Optimizer struct {
	cfg     config.AnalysisConfig
	log     *logger.Logger
	metrics repository.Metrics
	pool    *queue.Pool
}

func NewOptimizer(cfg config.AnalysisConfig, log *logger.Logger, metrics repository.Metrics) *Optimizer {
	return &Optimizer{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		pool:    queue.NewPool(queue.PoolConfig{Workers: cfg.Workers, TaskBudget: cfg.SolverBudget}),
	}
}

var _ domsvc.PortfolioOptimizer = (*Optimizer)(nil)

func (o *Optimizer) Optimize(ctx context.Context, returns *models.ReturnTable, labels *models.RegimeLabels) (*models.OptimizationResult, error) {
	if returns.Rows() == 0 || len(returns.Tickers) == 0 {
		return nil, fmt.Errorf("return table is empty: %w", models.ErrInsufficientData)
	}

	started := time.Now()
	result := &models.OptimizationResult{
		Allocations: make(map[string]models.Allocation),
		Failed:      make(map[string]error),
	}
	var mu sync.Mutex

	// horizon tables are shared across cells, build them once
	byHorizon := make(map[int]*models.ReturnTable, len(o.cfg.Horizons))
	for _, h := range o.cfg.Horizons {
		byHorizon[h] = horizonReturns(returns, h)
	}

	var tasks []queue.Task
	var keys []models.TripleKey
	for regime := 0; regime < labels.K; regime++ {
		for _, appetite := range models.Appetites() {
			for _, h := range o.cfg.Horizons {
				key := models.TripleKey{Regime: regime, Appetite: appetite, Horizon: h}
				table := byHorizon[h]
				keys = append(keys, key)
				tasks = append(tasks, func(ctx context.Context) error {
					alloc, err := o.solveCell(ctx, key, table, labels)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						result.Failed[key.String()] = &models.CellError{Key: key, Err: err}
						return err
					}
					result.Allocations[key.String()] = *alloc
					return nil
				})
			}
		}
	}

	errs := o.pool.Run(ctx, tasks)
	for i, err := range errs {
		status := "ok"
		if err != nil {
			status = "failed"
			o.log.Warn("grid cell failed",
				logger.String("cell", keys[i].String()),
				logger.Error(err),
			)
		}
		if o.metrics != nil {
			o.metrics.RecordGridCell(status)
		}
	}

	if len(result.Allocations) == 0 {
		return nil, fmt.Errorf("every grid cell failed: %w", models.ErrInsufficientData)
	}

	o.log.Info("optimization grid finished",
		logger.Int("solved", len(result.Allocations)),
		logger.Int("failed", len(result.Failed)),
		logger.Duration("took", time.Since(started)),
	)
	return result, nil
}

// solveCell estimates the cell's moments and dispatches on appetite.
// risk_averse and risk_loving maximize return under a volatility
// ceiling anchored at the min-variance portfolio; risk_neutral
// maximizes the Sharpe ratio directly.
func (o *Optimizer) solveCell(ctx context.Context, key models.TripleKey, table *models.ReturnTable, labels *models.RegimeLabels) (*models.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := regimeRows(table, labels, key.Regime)
	if len(rows) < o.cfg.MinObservations {
		return nil, fmt.Errorf("%w: %d rows in regime, need %d",
			models.ErrInsufficientData, len(rows), o.cfg.MinObservations)
	}

	tickers, mu, sigma := moments(table, rows, o.cfg.MinObservations)
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: no ticker has %d complete observations",
			models.ErrInsufficientData, o.cfg.MinObservations)
	}
	if !ridgeRegularize(sigma, o.cfg.RidgeEpsilon) {
		return nil, models.ErrDegenerateCovariance
	}

	solveStart := time.Now()
	var weights []float64
	var err error
	switch key.Appetite {
	case models.RiskNeutral:
		weights, err = solveMaxSharpe(ctx, mu, sigma)
	case models.RiskAverse, models.RiskLoving:
		anchor, aerr := solveMinVariance(ctx, sigma)
		if aerr != nil {
			return nil, fmt.Errorf("min-variance anchor: %w", aerr)
		}
		minVol := math.Sqrt(portfolioVariance(anchor, sigma))
		mult := o.cfg.RiskAverseMult
		if key.Appetite == models.RiskLoving {
			mult = o.cfg.RiskLovingMult
		}
		weights, err = solveMaxReturn(ctx, mu, sigma, minVol*mult)
	default:
		return nil, models.ErrUnknownRiskAppetite
	}
	if o.metrics != nil {
		o.metrics.RecordSolverDuration(time.Since(solveStart).Seconds())
	}
	if err != nil {
		return nil, err
	}

	// keep the raw horizon-period moments alongside the annual scaling
	horizonRet := dot(mu, weights)
	horizonRisk := math.Sqrt(portfolioVariance(weights, sigma))
	factor := 252.0 / float64(key.Horizon)
	expRet := horizonRet * factor
	vol := horizonRisk * math.Sqrt(factor)
	sharpe := 0.0
	if vol > 0 {
		sharpe = expRet / vol
	}

	wm := make(map[string]float64, len(tickers))
	active := 0
	for i, t := range tickers {
		wm[t] = weights[i]
		if weights[i] > 0.01 {
			active++
		}
	}

	return &models.Allocation{
		Key:            key,
		Weights:        wm,
		ExpectedReturn: expRet,
		Volatility:     vol,
		Sharpe:         sharpe,
		HorizonReturn:  horizonRet,
		HorizonRisk:    horizonRisk,
		ActiveAssets:   active,
		Observations:   len(rows),
	}, nil
}
