package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"RegimeFolio/internal/domain/models"
	domrepo "RegimeFolio/internal/domain/repository"
	pkgch "RegimeFolio/pkg/clickhouse"
	applogger "RegimeFolio/pkg/logger"
)

// CHResultStore persists pipeline outputs in ClickHouse. Every Store*
// call truncates its tables first, so readers always see exactly one
// run's rows.
type CHResultStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHResultStore(ch *pkgch.Client, l *applogger.Logger) *CHResultStore {
	return &CHResultStore{db: ch.DB(), l: l}
}

var _ domrepo.ResultStore = (*CHResultStore)(nil)

var resultSchema = []string{
	`CREATE DATABASE IF NOT EXISTS regimefolio`,
	`CREATE TABLE IF NOT EXISTS regimefolio.regime_labels (
        date Date, raw Int32, smoothed Int32, k Int32,
        explained_variance Float64, components Int32
    ) ENGINE=MergeTree ORDER BY date`,
	`CREATE TABLE IF NOT EXISTS regimefolio.regime_silhouette (
        k Int32, score Float64
    ) ENGINE=MergeTree ORDER BY k`,
	`CREATE TABLE IF NOT EXISTS regimefolio.portfolio_weights (
        cell String, regime Int32, appetite String, horizon Int32,
        ticker String, weight Float64
    ) ENGINE=MergeTree ORDER BY (cell, ticker)`,
	`CREATE TABLE IF NOT EXISTS regimefolio.portfolio_stats (
        cell String, regime Int32, appetite String, horizon Int32,
        expected_return Float64, volatility Float64, sharpe Float64,
        horizon_return Float64, horizon_risk Float64, n_assets Int32, observations Int32
    ) ENGINE=MergeTree ORDER BY cell`,
	`CREATE TABLE IF NOT EXISTS regimefolio.regime_profiles (
        regime Int32, days Int32, share Float64, mean_daily_ret Float64,
        daily_vol Float64, forward_ret Float64, forward_window Int32,
        first_date Date, last_date Date
    ) ENGINE=MergeTree ORDER BY regime`,
	`CREATE TABLE IF NOT EXISTS regimefolio.regime_feature_means (
        regime Int32, feature String, mean Float64
    ) ENGINE=MergeTree ORDER BY (regime, feature)`,
	`CREATE TABLE IF NOT EXISTS regimefolio.failed_cells (
        cell String, error String
    ) ENGINE=MergeTree ORDER BY cell`,
	`CREATE TABLE IF NOT EXISTS regimefolio.equity_curves (
        variant String, date Date, value Float64
    ) ENGINE=MergeTree ORDER BY (variant, date)`,
	`CREATE TABLE IF NOT EXISTS regimefolio.performance_metrics (
        variant String, annualized_return Float64, volatility Float64,
        sharpe Float64, max_drawdown Float64, total_return Float64,
        days Int32, degraded_days Int32
    ) ENGINE=MergeTree ORDER BY variant`,
}

func (s *CHResultStore) Init(ctx context.Context) error {
	for _, stmt := range resultSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *CHResultStore) StoreRegimeLabels(ctx context.Context, labels *models.RegimeLabels) error {
	if err := s.truncate(ctx, "regime_labels", "regime_silhouette"); err != nil {
		return err
	}

	var values []string
	var args []interface{}
	for i, d := range labels.Dates {
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, d, labels.Raw[i], labels.Smoothed[i], labels.K,
			labels.ExplainedVariance, labels.Components)
	}
	q := "INSERT INTO regimefolio.regime_labels (date, raw, smoothed, k, explained_variance, components) VALUES " +
		strings.Join(values, ",")
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert regime labels: %w", err)
	}

	values, args = nil, nil
	for k, score := range labels.Silhouette {
		values = append(values, "(?, ?)")
		args = append(args, k, score)
	}
	if len(values) > 0 {
		q = "INSERT INTO regimefolio.regime_silhouette (k, score) VALUES " + strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert silhouette scores: %w", err)
		}
	}

	s.l.Info("stored regime labels", applogger.Int("rows", len(labels.Dates)), applogger.Int("k", labels.K))
	return nil
}

func (s *CHResultStore) StoreRegimeProfiles(ctx context.Context, profiles []models.RegimeProfile) error {
	if err := s.truncate(ctx, "regime_profiles", "regime_feature_means"); err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}

	var values, fValues []string
	var args, fArgs []interface{}
	for _, p := range profiles {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, p.Regime, p.Days, p.Share, p.MeanDailyRet, p.DailyVol,
			p.ForwardRet, p.ForwardWindow, p.FirstDate, p.LastDate)
		for feature, mean := range p.FeatureMeans {
			fValues = append(fValues, "(?, ?, ?)")
			fArgs = append(fArgs, p.Regime, feature, mean)
		}
	}

	q := "INSERT INTO regimefolio.regime_profiles (regime, days, share, mean_daily_ret, daily_vol, forward_ret, forward_window, first_date, last_date) VALUES " +
		strings.Join(values, ",")
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert regime profiles: %w", err)
	}
	if len(fValues) > 0 {
		q = "INSERT INTO regimefolio.regime_feature_means (regime, feature, mean) VALUES " + strings.Join(fValues, ",")
		if _, err := s.db.ExecContext(ctx, q, fArgs...); err != nil {
			return fmt.Errorf("insert regime feature means: %w", err)
		}
	}

	s.l.Info("stored regime profiles", applogger.Int("regimes", len(profiles)))
	return nil
}

func (s *CHResultStore) StoreAllocations(ctx context.Context, result *models.OptimizationResult) error {
	if err := s.truncate(ctx, "portfolio_weights", "portfolio_stats", "failed_cells"); err != nil {
		return err
	}

	var wValues, sValues []string
	var wArgs, sArgs []interface{}
	for cell, alloc := range result.Allocations {
		k := alloc.Key
		sValues = append(sValues, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		sArgs = append(sArgs, cell, k.Regime, string(k.Appetite), k.Horizon,
			alloc.ExpectedReturn, alloc.Volatility, alloc.Sharpe,
			alloc.HorizonReturn, alloc.HorizonRisk, alloc.ActiveAssets, alloc.Observations)
		for ticker, w := range alloc.Weights {
			wValues = append(wValues, "(?, ?, ?, ?, ?, ?)")
			wArgs = append(wArgs, cell, k.Regime, string(k.Appetite), k.Horizon, ticker, w)
		}
	}

	if len(sValues) > 0 {
		q := "INSERT INTO regimefolio.portfolio_stats (cell, regime, appetite, horizon, expected_return, volatility, sharpe, horizon_return, horizon_risk, n_assets, observations) VALUES " +
			strings.Join(sValues, ",")
		if _, err := s.db.ExecContext(ctx, q, sArgs...); err != nil {
			return fmt.Errorf("insert portfolio stats: %w", err)
		}
	}
	if len(wValues) > 0 {
		q := "INSERT INTO regimefolio.portfolio_weights (cell, regime, appetite, horizon, ticker, weight) VALUES " +
			strings.Join(wValues, ",")
		if _, err := s.db.ExecContext(ctx, q, wArgs...); err != nil {
			return fmt.Errorf("insert portfolio weights: %w", err)
		}
	}

	var fValues []string
	var fArgs []interface{}
	for cell, cellErr := range result.Failed {
		fValues = append(fValues, "(?, ?)")
		fArgs = append(fArgs, cell, cellErr.Error())
	}
	if len(fValues) > 0 {
		q := "INSERT INTO regimefolio.failed_cells (cell, error) VALUES " + strings.Join(fValues, ",")
		if _, err := s.db.ExecContext(ctx, q, fArgs...); err != nil {
			return fmt.Errorf("insert failed cells: %w", err)
		}
	}

	s.l.Info("stored allocations",
		applogger.Int("cells", len(result.Allocations)),
		applogger.Int("failed", len(result.Failed)),
	)
	return nil
}

func (s *CHResultStore) StoreBacktest(ctx context.Context, result *models.BacktestResult) error {
	if err := s.truncate(ctx, "equity_curves", "performance_metrics"); err != nil {
		return err
	}

	var values []string
	var args []interface{}
	for _, curve := range result.Curves {
		for i, d := range curve.Dates {
			values = append(values, "(?, ?, ?)")
			args = append(args, curve.Name, d, curve.Values[i])
		}
	}
	if len(values) > 0 {
		q := "INSERT INTO regimefolio.equity_curves (variant, date, value) VALUES " + strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert equity curves: %w", err)
		}
	}

	values, args = nil, nil
	for _, m := range result.Metrics {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, m.Name, m.AnnualizedReturn, m.Volatility, m.Sharpe,
			m.MaxDrawdown, m.TotalReturn, m.Days, result.DegradedDays[m.Name])
	}
	if len(values) > 0 {
		q := "INSERT INTO regimefolio.performance_metrics (variant, annualized_return, volatility, sharpe, max_drawdown, total_return, days, degraded_days) VALUES " +
			strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert performance metrics: %w", err)
		}
	}

	s.l.Info("stored backtest",
		applogger.Int("curves", len(result.Curves)),
		applogger.Int("days", len(result.Dates)),
	)
	return nil
}

func (s *CHResultStore) LoadRegimeLabels(ctx context.Context) (*models.RegimeLabels, error) {
	const q = `
        SELECT date, raw, smoothed, k, explained_variance, components
        FROM regimefolio.regime_labels ORDER BY date ASC
    `
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load regime labels: %w", err)
	}
	defer rows.Close()

	labels := &models.RegimeLabels{Silhouette: make(map[int]float64)}
	for rows.Next() {
		var d time.Time
		var raw, smoothed int
		if err := rows.Scan(&d, &raw, &smoothed, &labels.K,
			&labels.ExplainedVariance, &labels.Components); err != nil {
			return nil, fmt.Errorf("scan regime label: %w", err)
		}
		labels.Dates = append(labels.Dates, d)
		labels.Raw = append(labels.Raw, raw)
		labels.Smoothed = append(labels.Smoothed, smoothed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(labels.Dates) == 0 {
		return nil, sql.ErrNoRows
	}

	srows, err := s.db.QueryContext(ctx, `SELECT k, score FROM regimefolio.regime_silhouette`)
	if err != nil {
		return nil, fmt.Errorf("load silhouette: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var k int
		var score float64
		if err := srows.Scan(&k, &score); err != nil {
			return nil, fmt.Errorf("scan silhouette: %w", err)
		}
		labels.Silhouette[k] = score
	}
	return labels, srows.Err()
}

func (s *CHResultStore) LoadRegimeProfiles(ctx context.Context) ([]models.RegimeProfile, error) {
	const q = `
        SELECT regime, days, share, mean_daily_ret, daily_vol, forward_ret, forward_window, first_date, last_date
        FROM regimefolio.regime_profiles ORDER BY regime ASC
    `
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load regime profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.RegimeProfile
	byRegime := make(map[int]int)
	for rows.Next() {
		var p models.RegimeProfile
		if err := rows.Scan(&p.Regime, &p.Days, &p.Share, &p.MeanDailyRet, &p.DailyVol,
			&p.ForwardRet, &p.ForwardWindow, &p.FirstDate, &p.LastDate); err != nil {
			return nil, fmt.Errorf("scan regime profile: %w", err)
		}
		p.FeatureMeans = make(map[string]float64)
		byRegime[p.Regime] = len(profiles)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(profiles) == 0 {
		return nil, sql.ErrNoRows
	}

	frows, err := s.db.QueryContext(ctx, `SELECT regime, feature, mean FROM regimefolio.regime_feature_means`)
	if err != nil {
		return nil, fmt.Errorf("load regime feature means: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var regime int
		var feature string
		var mean float64
		if err := frows.Scan(&regime, &feature, &mean); err != nil {
			return nil, fmt.Errorf("scan regime feature mean: %w", err)
		}
		if i, ok := byRegime[regime]; ok {
			profiles[i].FeatureMeans[feature] = mean
		}
	}
	return profiles, frows.Err()
}

func (s *CHResultStore) LoadAllocations(ctx context.Context) (*models.OptimizationResult, error) {
	result := &models.OptimizationResult{
		Allocations: make(map[string]models.Allocation),
		Failed:      make(map[string]error),
	}

	const sq = `
        SELECT cell, regime, appetite, horizon, expected_return, volatility, sharpe,
               horizon_return, horizon_risk, n_assets, observations
        FROM regimefolio.portfolio_stats
    `
	rows, err := s.db.QueryContext(ctx, sq)
	if err != nil {
		return nil, fmt.Errorf("load portfolio stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cell, appetite string
		var alloc models.Allocation
		if err := rows.Scan(&cell, &alloc.Key.Regime, &appetite, &alloc.Key.Horizon,
			&alloc.ExpectedReturn, &alloc.Volatility, &alloc.Sharpe,
			&alloc.HorizonReturn, &alloc.HorizonRisk, &alloc.ActiveAssets, &alloc.Observations); err != nil {
			return nil, fmt.Errorf("scan portfolio stats: %w", err)
		}
		alloc.Key.Appetite = models.RiskAppetite(appetite)
		alloc.Weights = make(map[string]float64)
		result.Allocations[cell] = alloc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(result.Allocations) == 0 {
		return nil, sql.ErrNoRows
	}

	const wq = `SELECT cell, ticker, weight FROM regimefolio.portfolio_weights`
	wrows, err := s.db.QueryContext(ctx, wq)
	if err != nil {
		return nil, fmt.Errorf("load portfolio weights: %w", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var cell, ticker string
		var w float64
		if err := wrows.Scan(&cell, &ticker, &w); err != nil {
			return nil, fmt.Errorf("scan portfolio weight: %w", err)
		}
		if alloc, ok := result.Allocations[cell]; ok {
			alloc.Weights[ticker] = w
		}
	}
	if err := wrows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	const fq = `SELECT cell, error FROM regimefolio.failed_cells`
	frows, err := s.db.QueryContext(ctx, fq)
	if err != nil {
		return nil, fmt.Errorf("load failed cells: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var cell, msg string
		if err := frows.Scan(&cell, &msg); err != nil {
			return nil, fmt.Errorf("scan failed cell: %w", err)
		}
		result.Failed[cell] = errors.New(msg)
	}
	return result, frows.Err()
}

func (s *CHResultStore) LoadBacktest(ctx context.Context) (*models.BacktestResult, error) {
	const cq = `
        SELECT variant, date, value FROM regimefolio.equity_curves
        ORDER BY variant ASC, date ASC
    `
	rows, err := s.db.QueryContext(ctx, cq)
	if err != nil {
		return nil, fmt.Errorf("load equity curves: %w", err)
	}
	defer rows.Close()

	curveIdx := make(map[string]int)
	result := &models.BacktestResult{DegradedDays: make(map[string]int)}
	for rows.Next() {
		var variant string
		var d time.Time
		var v float64
		if err := rows.Scan(&variant, &d, &v); err != nil {
			return nil, fmt.Errorf("scan curve point: %w", err)
		}
		i, ok := curveIdx[variant]
		if !ok {
			i = len(result.Curves)
			curveIdx[variant] = i
			result.Curves = append(result.Curves, models.EquityCurve{Name: variant})
		}
		result.Curves[i].Dates = append(result.Curves[i].Dates, d)
		result.Curves[i].Values = append(result.Curves[i].Values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(result.Curves) == 0 {
		return nil, sql.ErrNoRows
	}
	result.Dates = result.Curves[0].Dates

	const mq = `
        SELECT variant, annualized_return, volatility, sharpe, max_drawdown, total_return, days, degraded_days
        FROM regimefolio.performance_metrics
    `
	mrows, err := s.db.QueryContext(ctx, mq)
	if err != nil {
		return nil, fmt.Errorf("load performance metrics: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var m models.PerformanceMetrics
		var degraded int
		if err := mrows.Scan(&m.Name, &m.AnnualizedReturn, &m.Volatility, &m.Sharpe,
			&m.MaxDrawdown, &m.TotalReturn, &m.Days, &degraded); err != nil {
			return nil, fmt.Errorf("scan performance metrics: %w", err)
		}
		result.Metrics = append(result.Metrics, m)
		result.DegradedDays[m.Name] = degraded
	}
	return result, mrows.Err()
}

func (s *CHResultStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHResultStore) Close() error { return s.db.Close() }

func (s *CHResultStore) truncate(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE IF EXISTS regimefolio."+t); err != nil {
			return fmt.Errorf("truncate %s: %w", t, err)
		}
	}
	return nil
}
