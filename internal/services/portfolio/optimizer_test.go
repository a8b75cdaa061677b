package portfolio

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
)

func testConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		Seed:            42,
		Horizons:        []int{63},
		MinObservations: 30,
		RiskAverseMult:  1.2,
		RiskLovingMult:  3.0,
		RidgeEpsilon:    1e-8,
		Workers:         2,
		SolverBudget:    30 * time.Second,
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestHorizonReturnsRollingSum(t *testing.T) {
	dates := tradingDates(5)
	table := &models.ReturnTable{
		Dates:   dates,
		Tickers: []string{"A"},
		Data:    []float64{0.01, 0.02, 0.03, 0.04, 0.05},
	}

	h := horizonReturns(table, 3)
	if h.Rows() != 3 {
		t.Fatalf("expected 3 rows, got %d", h.Rows())
	}
	if !h.Dates[0].Equal(dates[2]) {
		t.Fatalf("first horizon row should keep the window-end date")
	}
	if math.Abs(h.At(0, 0)-0.06) > 1e-12 {
		t.Fatalf("expected 0.06, got %v", h.At(0, 0))
	}
	if math.Abs(h.At(2, 0)-0.12) > 1e-12 {
		t.Fatalf("expected 0.12, got %v", h.At(2, 0))
	}
}

func TestHorizonReturnsPropagatesMissing(t *testing.T) {
	table := &models.ReturnTable{
		Dates:   tradingDates(4),
		Tickers: []string{"A"},
		Data:    []float64{0.01, models.Missing(), 0.03, 0.04},
	}

	h := horizonReturns(table, 2)
	if !models.IsMissing(h.At(0, 0)) || !models.IsMissing(h.At(1, 0)) {
		t.Fatalf("windows touching a gap must be missing")
	}
	if models.IsMissing(h.At(2, 0)) {
		t.Fatalf("complete window should not be missing")
	}
}

func TestMomentsPairwiseComplete(t *testing.T) {
	table := &models.ReturnTable{
		Dates:   tradingDates(4),
		Tickers: []string{"A", "B"},
		Data: []float64{
			0.01, 0.02,
			0.02, models.Missing(),
			0.03, 0.04,
			0.04, 0.06,
		},
	}

	tickers, mu, sigma := moments(table, []int{0, 1, 2, 3}, 3)
	if len(tickers) != 2 {
		t.Fatalf("both tickers have >= 3 observations, got %v", tickers)
	}
	if math.Abs(mu[0]-0.025) > 1e-12 {
		t.Fatalf("mean A: expected 0.025, got %v", mu[0])
	}
	if math.Abs(mu[1]-0.04) > 1e-12 {
		t.Fatalf("mean B: expected 0.04, got %v", mu[1])
	}
	if sigma.At(0, 1) != sigma.At(1, 0) {
		t.Fatalf("covariance must be symmetric")
	}
}

func TestMomentsDropsSparseTicker(t *testing.T) {
	table := &models.ReturnTable{
		Dates:   tradingDates(4),
		Tickers: []string{"A", "B"},
		Data: []float64{
			0.01, models.Missing(),
			0.02, models.Missing(),
			0.03, models.Missing(),
			0.04, 0.06,
		},
	}

	tickers, _, _ := moments(table, []int{0, 1, 2, 3}, 3)
	if len(tickers) != 1 || tickers[0] != "A" {
		t.Fatalf("expected only A to survive, got %v", tickers)
	}
}

func TestSolveMinVarianceFavorsLowVarianceAsset(t *testing.T) {
	sigma := mat.NewSymDense(2, []float64{1, 0, 0, 4})
	w, err := solveMinVariance(context.Background(), sigma)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	// analytic solution for diag(1,4) is (0.8, 0.2)
	if math.Abs(w[0]-0.8) > 0.02 || math.Abs(w[1]-0.2) > 0.02 {
		t.Fatalf("expected ~(0.8, 0.2), got %v", w)
	}
}

func TestSolveMaxReturnRespectsCeiling(t *testing.T) {
	mu := []float64{0.01, 0.05}
	sigma := mat.NewSymDense(2, []float64{0.0001, 0, 0, 0.04})

	w, err := solveMaxReturn(context.Background(), mu, sigma, 0.05)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	vol := math.Sqrt(portfolioVariance(w, sigma))
	if vol > 0.06 {
		t.Fatalf("volatility ceiling ignored: %v", vol)
	}

	loose, err := solveMaxReturn(context.Background(), mu, sigma, 10)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if loose[1] < w[1] {
		t.Fatalf("looser ceiling should allow more of the high-return asset: %v vs %v", loose[1], w[1])
	}
}

func TestSolveMaxSharpePicksEfficientAsset(t *testing.T) {
	// same variance, different means: Sharpe solution tilts to the
	// higher-mean asset
	mu := []float64{0.001, 0.02}
	sigma := mat.NewSymDense(2, []float64{0.01, 0, 0, 0.01})

	w, err := solveMaxSharpe(context.Background(), mu, sigma)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if w[1] <= w[0] {
		t.Fatalf("expected tilt to the higher-mean asset, got %v", w)
	}
}

func TestRidgeRegularizeRepairsSingular(t *testing.T) {
	// perfectly correlated pair: singular covariance
	sigma := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	if !ridgeRegularize(sigma, 1e-8) {
		t.Fatalf("ridge should repair a singular matrix")
	}
	var chol mat.Cholesky
	if !chol.Factorize(sigma) {
		t.Fatalf("matrix still not positive definite")
	}
}

func TestOptimizeSolvesFullGrid(t *testing.T) {
	returns, labels := syntheticRegimes(400)
	opt := NewOptimizer(testConfig(), testLogger(t), nil)

	result, err := opt.Optimize(context.Background(), returns, labels)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	// 2 regimes x 3 appetites x 1 horizon
	if len(result.Allocations)+len(result.Failed) != 6 {
		t.Fatalf("expected 6 cells, got %d solved and %d failed",
			len(result.Allocations), len(result.Failed))
	}
	if len(result.Allocations) != 6 {
		t.Fatalf("expected all cells to solve, failures: %v", result.Failed)
	}

	for key, alloc := range result.Allocations {
		sum := 0.0
		for _, w := range alloc.Weights {
			if w < -1e-9 {
				t.Fatalf("%s: negative weight %v", key, w)
			}
			sum += w
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("%s: weights sum to %v", key, sum)
		}
		if alloc.Observations < 30 {
			t.Fatalf("%s: too few observations recorded: %d", key, alloc.Observations)
		}
		if alloc.HorizonRisk <= 0 {
			t.Fatalf("%s: horizon risk not recorded: %v", key, alloc.HorizonRisk)
		}
		wantAnnual := alloc.HorizonReturn * 252.0 / 63.0
		if math.Abs(alloc.ExpectedReturn-wantAnnual) > 1e-9 {
			t.Fatalf("%s: annualized return %v inconsistent with horizon return %v",
				key, alloc.ExpectedReturn, alloc.HorizonReturn)
		}
		if alloc.ActiveAssets < 1 || alloc.ActiveAssets > len(alloc.Weights) {
			t.Fatalf("%s: implausible active asset count %d", key, alloc.ActiveAssets)
		}
	}
}

func TestOptimizeSkipsThinRegime(t *testing.T) {
	returns, labels := syntheticRegimes(400)
	// regime 2 exists in the label set but covers too few days
	labels.K = 3
	for i := 0; i < 5; i++ {
		labels.Smoothed[i] = 2
	}

	opt := NewOptimizer(testConfig(), testLogger(t), nil)
	result, err := opt.Optimize(context.Background(), returns, labels)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	skipped := 0
	for _, cellErr := range result.Failed {
		if errors.Is(cellErr, models.ErrInsufficientData) {
			skipped++
		}
	}
	if skipped != 3 {
		t.Fatalf("expected 3 skipped cells for the thin regime, got %d", skipped)
	}
}

func tradingDates(n int) []time.Time {
	out := make([]time.Time, n)
	day := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = day
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// syntheticRegimes builds two tickers over two regime halves with
// distinct return distributions.
func syntheticRegimes(n int) (*models.ReturnTable, *models.RegimeLabels) {
	dates := tradingDates(n)
	rng := rand.New(rand.NewSource(11))

	table := &models.ReturnTable{
		Dates:   dates,
		Tickers: []string{"EQ", "BOND"},
		Data:    make([]float64, n*2),
	}
	labels := &models.RegimeLabels{
		Dates:    dates,
		Raw:      make([]int, n),
		Smoothed: make([]int, n),
		K:        2,
	}
	for i := 0; i < n; i++ {
		if i >= n/2 {
			labels.Smoothed[i] = 1
			labels.Raw[i] = 1
			table.Set(i, 0, -0.001+rng.NormFloat64()*0.02)
			table.Set(i, 1, 0.0004+rng.NormFloat64()*0.004)
		} else {
			table.Set(i, 0, 0.001+rng.NormFloat64()*0.01)
			table.Set(i, 1, 0.0002+rng.NormFloat64()*0.004)
		}
	}
	return table, labels
}

func TestSolveMinVarianceIdentityEqualWeights(t *testing.T) {
	sigma := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	w, err := solveMinVariance(context.Background(), sigma)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	for i, wi := range w {
		if math.Abs(wi-1.0/3.0) > 0.02 {
			t.Fatalf("asset %d: expected ~1/3, got %v", i, wi)
		}
	}
}

func TestSolveMaxSharpeIdentityTangency(t *testing.T) {
	// with identity covariance the tangency portfolio is proportional
	// to the means: (1/6, 1/3, 1/2) after normalization
	mu := []float64{0.01, 0.02, 0.03}
	sigma := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})

	w, err := solveMaxSharpe(context.Background(), mu, sigma)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	want := []float64{1.0 / 6.0, 1.0 / 3.0, 1.0 / 2.0}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 0.05 {
			t.Fatalf("asset %d: expected ~%v, got %v (full vector %v)", i, want[i], w[i], w)
		}
	}
}

func TestSolveFailsWhenBudgetExhausted(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	sigma := mat.NewSymDense(2, []float64{1, 0, 0, 4})
	if _, err := solveMinVariance(ctx, sigma); !errors.Is(err, models.ErrSolverNonConvergence) {
		t.Fatalf("expected non-convergence on an expired deadline, got %v", err)
	}
	mu := []float64{0.01, 0.02}
	if _, err := solveMaxSharpe(ctx, mu, sigma); !errors.Is(err, models.ErrSolverNonConvergence) {
		t.Fatalf("expected non-convergence on an expired deadline, got %v", err)
	}
}

func TestOptimizeRiskOrderingAcrossAppetites(t *testing.T) {
	returns, labels := syntheticRegimes(400)
	opt := NewOptimizer(testConfig(), testLogger(t), nil)

	result, err := opt.Optimize(context.Background(), returns, labels)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	for r := 0; r < labels.K; r++ {
		averse := models.TripleKey{Regime: r, Appetite: models.RiskAverse, Horizon: 63}.String()
		loving := models.TripleKey{Regime: r, Appetite: models.RiskLoving, Horizon: 63}.String()
		a, okA := result.Allocations[averse]
		l, okL := result.Allocations[loving]
		if !okA || !okL {
			t.Fatalf("regime %d: missing averse/loving cells", r)
		}
		// vol ceilings 1.2x and 3.0x of the same anchor
		if a.Volatility > l.Volatility+1e-9 {
			t.Fatalf("regime %d: risk averse vol %v exceeds risk loving vol %v",
				r, a.Volatility, l.Volatility)
		}
	}
}
