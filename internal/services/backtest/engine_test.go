package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testBacktestConfig() config.BacktestConfig {
	return config.BacktestConfig{
		Horizon:       63,
		Benchmark:     "SPY",
		FixedMix:      map[string]float64{"EQ": 0.6, "BOND": 0.4},
		FixedMixLabel: "60/40 Mix",
		RebaseValue:   100,
	}
}

func tradingDates(n int) []time.Time {
	out := make([]time.Time, n)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = day
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// fixture builds a 10-day world with one regime switch on day 5 and a
// solved allocation for both regimes at every appetite. Each table gets
// its own date slice so tests can shift one axis independently.
func fixture(n int) (*models.ReturnTable, *models.ReturnTable, *models.RegimeLabels, *models.OptimizationResult) {
	returns := &models.ReturnTable{
		Dates:   tradingDates(n),
		Tickers: []string{"EQ", "BOND"},
		Data:    make([]float64, n*2),
	}
	bench := &models.ReturnTable{
		Dates:   tradingDates(n),
		Tickers: []string{"SPY"},
		Data:    make([]float64, n),
	}
	labels := &models.RegimeLabels{
		Dates:    tradingDates(n),
		Raw:      make([]int, n),
		Smoothed: make([]int, n),
		K:        2,
	}
	for i := 0; i < n; i++ {
		returns.Set(i, 0, 0.01)
		returns.Set(i, 1, 0.002)
		bench.Data[i] = 0.005
		if i >= n/2 {
			labels.Smoothed[i] = 1
		}
	}

	result := &models.OptimizationResult{
		Allocations: make(map[string]models.Allocation),
		Failed:      make(map[string]error),
	}
	for regime := 0; regime < 2; regime++ {
		for _, app := range models.Appetites() {
			key := models.TripleKey{Regime: regime, Appetite: app, Horizon: 63}
			w := map[string]float64{"EQ": 1}
			if regime == 1 {
				w = map[string]float64{"BOND": 1}
			}
			result.Allocations[key.String()] = models.Allocation{Key: key, Weights: w}
		}
	}
	return returns, bench, labels, result
}

func TestRunSwitchesWeightsOnRegimeChange(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)

	res, err := eng.Run(context.Background(), returns, bench, labels, allocs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	curve := res.Curve("Risk Neutral")
	if curve == nil {
		t.Fatalf("missing strategy curve, have %v", res.DegradedDays)
	}
	if curve.Values[0] != 100 {
		t.Fatalf("curve must start at 100, got %v", curve.Values[0])
	}

	// regime 0 holds EQ at 1%/day, regime 1 holds BOND at 0.2%/day
	wantDay1 := 100 * 1.01
	if math.Abs(curve.Values[1]-wantDay1) > 1e-9 {
		t.Fatalf("day 1: expected %v, got %v", wantDay1, curve.Values[1])
	}
	growthLate := curve.Values[9] / curve.Values[8]
	if math.Abs(growthLate-1.002) > 1e-9 {
		t.Fatalf("after the switch growth should be 0.2%%/day, got %v", growthLate)
	}

	if res.DegradedDays["Risk Neutral"] != 0 {
		t.Fatalf("no degraded days expected, got %d", res.DegradedDays["Risk Neutral"])
	}
}

func TestRunRepeatsPriorReturnWhenAllocationMissing(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	// drop every regime-1 allocation and let EQ spike on day 7: the
	// engine must repeat the last solved day's return, not re-apply the
	// stale weights to day 7's move
	for _, app := range models.Appetites() {
		key := models.TripleKey{Regime: 1, Appetite: app, Horizon: 63}
		delete(allocs.Allocations, key.String())
	}
	returns.Set(7, 0, 0.03)

	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)
	res, err := eng.Run(context.Background(), returns, bench, labels, allocs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.DegradedDays["Risk Averse"] != 5 {
		t.Fatalf("expected 5 degraded days, got %d", res.DegradedDays["Risk Averse"])
	}
	curve := res.Curve("Risk Averse")
	for day := 5; day <= 9; day++ {
		growth := curve.Values[day] / curve.Values[day-1]
		if math.Abs(growth-1.01) > 1e-9 {
			t.Fatalf("day %d: expected the day-4 return repeated, got growth %v", day, growth)
		}
	}
}

func TestRunForwardFillsWhenNoTickerPriced(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	// BOND goes dark on day 8 while regime 1 holds it: the weights cover
	// no priced ticker, so day 7's return repeats
	returns.Set(8, 1, models.Missing())

	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)
	res, err := eng.Run(context.Background(), returns, bench, labels, allocs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	curve := res.Curve("Risk Loving")
	growth := curve.Values[8] / curve.Values[7]
	if math.Abs(growth-1.002) > 1e-9 {
		t.Fatalf("day with no priced holding should repeat day 7's return: got growth %v", growth)
	}
	if res.DegradedDays["Risk Loving"] != 1 {
		t.Fatalf("expected 1 degraded day, got %d", res.DegradedDays["Risk Loving"])
	}
}

func TestRunTruncatesToCommonValidStart(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	// no regime-0 allocations: the strategies have nothing to fill from
	// until the day-5 switch, so every curve restarts there together
	for _, app := range models.Appetites() {
		key := models.TripleKey{Regime: 0, Appetite: app, Horizon: 63}
		delete(allocs.Allocations, key.String())
	}

	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)
	res, err := eng.Run(context.Background(), returns, bench, labels, allocs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(res.Dates) != 5 {
		t.Fatalf("expected 5 remaining days, got %d", len(res.Dates))
	}
	wantStart := time.Date(2023, 1, 7, 0, 0, 0, 0, time.UTC)
	if !res.Dates[0].Equal(wantStart) {
		t.Fatalf("expected window to open on %v, got %v", wantStart, res.Dates[0])
	}
	for _, name := range []string{"Risk Neutral", "SPY", "60/40 Mix"} {
		curve := res.Curve(name)
		if curve == nil {
			t.Fatalf("curve %q missing", name)
		}
		if len(curve.Values) != 5 || curve.Values[0] != 100 {
			t.Fatalf("%s: expected 5 values rebased at 100, got %d starting %v",
				name, len(curve.Values), curve.Values[0])
		}
	}
	// the dropped leading days no longer count as degraded
	if res.DegradedDays["Risk Neutral"] != 0 {
		t.Fatalf("expected 0 degraded days inside the window, got %d", res.DegradedDays["Risk Neutral"])
	}
}

func TestRunFailsWhenStrategyNeverValid(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	allocs.Allocations = make(map[string]models.Allocation)

	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)
	if _, err := eng.Run(context.Background(), returns, bench, labels, allocs); err == nil {
		t.Fatalf("expected alignment error for a never-valid strategy")
	}
}

func TestRunIncludesBenchmarkAndFixedMix(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)

	res, err := eng.Run(context.Background(), returns, bench, labels, allocs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Curve("SPY") == nil {
		t.Fatalf("benchmark curve missing")
	}
	mix := res.Curve("60/40 Mix")
	if mix == nil {
		t.Fatalf("fixed mix curve missing")
	}
	// 0.6*0.01 + 0.4*0.002 per day
	want := 100 * (1 + 0.6*0.01 + 0.4*0.002)
	if math.Abs(mix.Values[1]-want) > 1e-9 {
		t.Fatalf("fixed mix day 1: expected %v, got %v", want, mix.Values[1])
	}
}

func TestRunFailsWithoutCommonDates(t *testing.T) {
	returns, bench, labels, allocs := fixture(10)
	for i := range bench.Dates {
		bench.Dates[i] = bench.Dates[i].AddDate(1, 0, 0)
	}

	eng := NewEngine(testBacktestConfig(), testLogger(t), nil)
	if _, err := eng.Run(context.Background(), returns, bench, labels, allocs); err == nil {
		t.Fatalf("expected alignment error")
	}
}

func TestComputeMetrics(t *testing.T) {
	daily := []float64{0.01, -0.02, 0.03, 0.01, -0.01}
	m := computeMetrics("x", daily)

	want := 1.01 * 0.98 * 1.03 * 1.01 * 0.99
	if math.Abs(m.TotalReturn-(want-1)) > 1e-12 {
		t.Fatalf("total return: expected %v, got %v", want-1, m.TotalReturn)
	}
	if m.MaxDrawdown > 0 {
		t.Fatalf("drawdown must be <= 0, got %v", m.MaxDrawdown)
	}
	if m.Volatility <= 0 {
		t.Fatalf("expected positive volatility")
	}
	if m.Days != 5 {
		t.Fatalf("expected 5 days, got %d", m.Days)
	}
}

func TestComputeMetricsMaxDrawdown(t *testing.T) {
	// peak at day 2, trough at day 4: drawdown = 0.95*0.9 - 1
	daily := []float64{0.10, 0.10, -0.05, -0.10}
	m := computeMetrics("x", daily)
	want := 0.95*0.90 - 1
	if math.Abs(m.MaxDrawdown-want) > 1e-12 {
		t.Fatalf("expected drawdown %v, got %v", want, m.MaxDrawdown)
	}
}
