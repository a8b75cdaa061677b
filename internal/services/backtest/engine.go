package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/internal/domain/repository"
	domsvc "RegimeFolio/internal/domain/service"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
)

// Engine simulates the regime-switching strategies day by day against
// the benchmark and a fixed mix, on the common date axis of all inputs.
type Engine struct {
	cfg     config.BacktestConfig
	log     *logger.Logger
	metrics repository.Metrics
}

func NewEngine(cfg config.BacktestConfig, log *logger.Logger, metrics repository.Metrics) *Engine {
	return &Engine{cfg: cfg, log: log, metrics: metrics}
}

var _ domsvc.BacktestEngine = (*Engine)(nil)

// variantSeries is one curve's daily returns before rebasing. Missing
// entries mark days with no computable return; degraded flags which
// days were filled from the prior return.
type variantSeries struct {
	name     string
	daily    []float64
	degraded []bool
}

// Run builds a daily return series per variant, forward-fills gaps with
// the prior valid return, then truncates every series to the earliest
// date where all variants have a value so the curves rebase together.
func (e *Engine) Run(ctx context.Context, returns *models.ReturnTable, benchmark *models.ReturnTable,
	labels *models.RegimeLabels, allocations *models.OptimizationResult) (*models.BacktestResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dates, retIdx, benchIdx, labelIdx := intersectDates(returns, benchmark, labels)
	if len(dates) == 0 {
		return nil, fmt.Errorf("returns, benchmark and labels share no dates: %w", models.ErrAlignment)
	}

	var variants []variantSeries
	for _, appetite := range models.Appetites() {
		daily, degraded := e.strategyReturns(appetite, dates, returns, retIdx, labels, labelIdx, allocations)
		variants = append(variants, variantSeries{name: appetite.Label(), daily: daily, degraded: degraded})
	}
	variants = append(variants, e.benchmarkReturns(dates, benchmark, benchIdx))
	if len(e.cfg.FixedMix) > 0 {
		variants = append(variants, e.fixedMixReturns(dates, returns, retIdx))
	}

	start := 0
	for i := range variants {
		first := fillForward(variants[i].daily)
		if first < 0 {
			return nil, fmt.Errorf("%s has no computable return on the common dates: %w",
				variants[i].name, models.ErrAlignment)
		}
		if first > start {
			start = first
		}
	}

	result := &models.BacktestResult{
		Dates:        dates[start:],
		DegradedDays: make(map[string]int),
	}
	for _, v := range variants {
		daily := v.daily[start:]
		degraded := 0
		for _, d := range v.degraded[start:] {
			if d {
				degraded++
			}
		}
		result.Curves = append(result.Curves, rebase(v.name, result.Dates, daily, e.cfg.RebaseValue))
		result.Metrics = append(result.Metrics, computeMetrics(v.name, daily))
		result.DegradedDays[v.name] = degraded
	}

	e.log.Info("backtest finished",
		logger.Int("days", len(result.Dates)),
		logger.Int("skippedLeading", start),
		logger.Int("variants", len(result.Curves)),
		logger.Any("degraded", result.DegradedDays),
	)
	return result, nil
}

// strategyReturns walks the date axis applying the allocation of each
// day's smoothed regime. Days whose regime has no solved allocation, or
// whose weights cover no priced ticker, are left missing and flagged
// degraded; Run later repeats the prior day's return over them.
func (e *Engine) strategyReturns(appetite models.RiskAppetite, dates []time.Time,
	returns *models.ReturnTable, retIdx []int,
	labels *models.RegimeLabels, labelIdx []int,
	allocations *models.OptimizationResult) ([]float64, []bool) {

	daily := make([]float64, len(dates))
	degraded := make([]bool, len(dates))

	for i := range dates {
		regime := labels.Smoothed[labelIdx[i]]
		key := models.TripleKey{Regime: regime, Appetite: appetite, Horizon: e.cfg.Horizon}

		alloc, ok := allocations.Allocations[key.String()]
		if !ok {
			daily[i] = models.Missing()
			degraded[i] = true
			continue
		}
		r, ok := applyWeights(alloc.Weights, returns, retIdx[i])
		if !ok {
			daily[i] = models.Missing()
			degraded[i] = true
			continue
		}
		daily[i] = r
	}
	return daily, degraded
}

func (e *Engine) benchmarkReturns(dates []time.Time, benchmark *models.ReturnTable, benchIdx []int) variantSeries {
	daily := make([]float64, len(dates))
	degraded := make([]bool, len(dates))
	for i, bi := range benchIdx {
		v := benchmark.At(bi, 0)
		if models.IsMissing(v) {
			daily[i] = models.Missing()
			degraded[i] = true
			continue
		}
		daily[i] = v
	}
	return variantSeries{name: e.cfg.Benchmark, daily: daily, degraded: degraded}
}

func (e *Engine) fixedMixReturns(dates []time.Time, returns *models.ReturnTable, retIdx []int) variantSeries {
	daily := make([]float64, len(dates))
	degraded := make([]bool, len(dates))
	for i := range dates {
		r, ok := applyWeights(e.cfg.FixedMix, returns, retIdx[i])
		if !ok {
			daily[i] = models.Missing()
			degraded[i] = true
			continue
		}
		daily[i] = r
	}
	return variantSeries{name: e.cfg.FixedMixLabel, daily: daily, degraded: degraded}
}

// fillForward replaces each missing return with the last valid one and
// reports the index of the first valid entry, -1 when there is none.
// Leading gaps stay missing; Run truncates past them.
func fillForward(daily []float64) int {
	first := -1
	var last float64
	for i, v := range daily {
		if models.IsMissing(v) {
			if first >= 0 {
				daily[i] = last
			}
			continue
		}
		if first < 0 {
			first = i
		}
		last = v
	}
	return first
}

// applyWeights computes the weighted return over the tickers that have
// an observation on the given row, renormalizing over that subset.
func applyWeights(weights map[string]float64, returns *models.ReturnTable, row int) (float64, bool) {
	var ret, wsum float64
	for ticker, w := range weights {
		j := returns.TickerIndex(ticker)
		if j < 0 {
			continue
		}
		v := returns.At(row, j)
		if models.IsMissing(v) {
			continue
		}
		ret += w * v
		wsum += w
	}
	if wsum <= 0 {
		return 0, false
	}
	return ret / wsum, true
}

// intersectDates returns the ascending common dates of all three inputs
// plus, per output position, the source row index in each input.
func intersectDates(returns, benchmark *models.ReturnTable, labels *models.RegimeLabels) ([]time.Time, []int, []int, []int) {
	benchRows := make(map[int64]int, benchmark.Rows())
	for i, d := range benchmark.Dates {
		benchRows[d.Unix()] = i
	}
	labelRows := make(map[int64]int, len(labels.Dates))
	for i, d := range labels.Dates {
		labelRows[d.Unix()] = i
	}

	var dates []time.Time
	var retIdx, benchIdx, labelIdx []int
	for i, d := range returns.Dates {
		bi, ok := benchRows[d.Unix()]
		if !ok {
			continue
		}
		li, ok := labelRows[d.Unix()]
		if !ok {
			continue
		}
		dates = append(dates, d)
		retIdx = append(retIdx, i)
		benchIdx = append(benchIdx, bi)
		labelIdx = append(labelIdx, li)
	}

	sort.Sort(byDate{dates, retIdx, benchIdx, labelIdx})
	return dates, retIdx, benchIdx, labelIdx
}

type byDate struct {
	dates []time.Time
	a     []int
	b     []int
	c     []int
}

func (s byDate) Len() int           { return len(s.dates) }
func (s byDate) Less(i, j int) bool { return s.dates[i].Before(s.dates[j]) }
func (s byDate) Swap(i, j int) {
	s.dates[i], s.dates[j] = s.dates[j], s.dates[i]
	s.a[i], s.a[j] = s.a[j], s.a[i]
	s.b[i], s.b[j] = s.b[j], s.b[i]
	s.c[i], s.c[j] = s.c[j], s.c[i]
}
