package usecase

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/pkg/logger"
)

// fakeResultStore serves canned pipeline outputs.
type fakeResultStore struct {
	labels   *models.RegimeLabels
	profiles []models.RegimeProfile
	grid     *models.OptimizationResult
	bt       *models.BacktestResult

	storedLabels   *models.RegimeLabels
	storedProfiles []models.RegimeProfile
	storedGrid     *models.OptimizationResult
	storedBT       *models.BacktestResult
}

func (f *fakeResultStore) Init(ctx context.Context) error { return nil }
func (f *fakeResultStore) StoreRegimeLabels(ctx context.Context, l *models.RegimeLabels) error {
	f.storedLabels = l
	return nil
}
func (f *fakeResultStore) StoreRegimeProfiles(ctx context.Context, p []models.RegimeProfile) error {
	f.storedProfiles = p
	return nil
}
func (f *fakeResultStore) StoreAllocations(ctx context.Context, r *models.OptimizationResult) error {
	f.storedGrid = r
	return nil
}
func (f *fakeResultStore) StoreBacktest(ctx context.Context, r *models.BacktestResult) error {
	f.storedBT = r
	return nil
}
func (f *fakeResultStore) LoadRegimeLabels(ctx context.Context) (*models.RegimeLabels, error) {
	return f.labels, nil
}
func (f *fakeResultStore) LoadRegimeProfiles(ctx context.Context) ([]models.RegimeProfile, error) {
	if f.profiles == nil {
		return nil, sql.ErrNoRows
	}
	return f.profiles, nil
}
func (f *fakeResultStore) LoadAllocations(ctx context.Context) (*models.OptimizationResult, error) {
	return f.grid, nil
}
func (f *fakeResultStore) LoadBacktest(ctx context.Context) (*models.BacktestResult, error) {
	return f.bt, nil
}
func (f *fakeResultStore) Health(ctx context.Context) error { return nil }
func (f *fakeResultStore) Close() error                     { return nil }

func viewsLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func fakeStoreWithData() *fakeResultStore {
	dates := make([]time.Time, 400)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = day
		day = day.AddDate(0, 0, 1)
	}

	labels := &models.RegimeLabels{
		Dates:             dates,
		Raw:               make([]int, 400),
		Smoothed:          make([]int, 400),
		K:                 2,
		Silhouette:        map[int]float64{2: 0.6, 3: 0.4},
		ExplainedVariance: 0.93,
		Components:        3,
	}
	for i := 200; i < 400; i++ {
		labels.Smoothed[i] = 1
	}

	grid := &models.OptimizationResult{
		Allocations: make(map[string]models.Allocation),
		Failed:      make(map[string]error),
	}
	for regime := 0; regime < 2; regime++ {
		for _, app := range models.Appetites() {
			key := models.TripleKey{Regime: regime, Appetite: app, Horizon: 63}
			grid.Allocations[key.String()] = models.Allocation{
				Key: key,
				Weights: map[string]float64{
					"AAPL": 0.5,
					"TLT":  0.495,
					"SPY":  0.005, // dust, filtered from views
				},
				ExpectedReturn: 0.08,
				Volatility:     0.12,
				Sharpe:         0.66,
				Observations:   100,
			}
		}
	}

	curves := []models.EquityCurve{}
	names := []string{"Risk Averse", "Risk Neutral", "Risk Loving", "SPY"}
	for _, name := range names {
		values := make([]float64, 400)
		values[0] = 100
		for i := 1; i < 400; i++ {
			values[i] = values[i-1] * 1.0005
		}
		curves = append(curves, models.EquityCurve{Name: name, Dates: dates, Values: values})
	}
	bt := &models.BacktestResult{
		Dates:  dates,
		Curves: curves,
		Metrics: []models.PerformanceMetrics{
			{Name: "Risk Neutral", AnnualizedReturn: 0.13, Volatility: 0.1, Sharpe: 1.3},
			{Name: "SPY", AnnualizedReturn: 0.1, Volatility: 0.15, Sharpe: 0.66},
		},
		DegradedDays: map[string]int{"Risk Neutral": 0},
	}

	profiles := []models.RegimeProfile{
		{
			Regime: 0, Days: 200, Share: 0.5, MeanDailyRet: 0.0008, DailyVol: 0.01,
			ForwardRet: 0.02, ForwardWindow: 20,
			FirstDate: dates[0], LastDate: dates[199],
			FeatureMeans: map[string]float64{"ret_vol": 0.1},
		},
		{
			Regime: 1, Days: 200, Share: 0.5, MeanDailyRet: -0.0005, DailyVol: 0.02,
			ForwardRet: -0.01, ForwardWindow: 20,
			FirstDate: dates[200], LastDate: dates[399],
			FeatureMeans: map[string]float64{"ret_vol": 0.4},
		},
	}

	return &fakeResultStore{labels: labels, profiles: profiles, grid: grid, bt: bt}
}

func newViews(t *testing.T) (*AnalysisViews, *fakeResultStore) {
	store := fakeStoreWithData()
	return NewAnalysisViews(store, nil, ViewTTL{}, viewsLogger(t)), store
}

func TestGetRegimesReportsCurrent(t *testing.T) {
	views, _ := newViews(t)
	out, err := views.GetRegimes(context.Background())
	if err != nil {
		t.Fatalf("get regimes: %v", err)
	}
	if out.K != 2 || out.Current != 1 {
		t.Fatalf("expected k=2 current=1, got k=%d current=%d", out.K, out.Current)
	}
	if len(out.Labels) != 400 {
		t.Fatalf("expected 400 label rows, got %d", len(out.Labels))
	}
}

func TestGetRegimesIncludesProfiles(t *testing.T) {
	views, _ := newViews(t)
	out, err := views.GetRegimes(context.Background())
	if err != nil {
		t.Fatalf("get regimes: %v", err)
	}
	if len(out.Profiles) != 2 {
		t.Fatalf("expected 2 regime profiles, got %d", len(out.Profiles))
	}
	p := out.Profiles[1]
	if p.Regime != 1 || p.Days != 200 {
		t.Fatalf("unexpected profile %+v", p)
	}
	if math.Abs(p.FeatureMeans["ret_vol"]-0.4) > 1e-9 {
		t.Fatalf("feature means not exposed: %v", p.FeatureMeans)
	}
	if p.FirstDate == "" || p.LastDate == "" {
		t.Fatalf("profile dates missing: %+v", p)
	}
}

func TestGetAllocationsFiltersDustAndCells(t *testing.T) {
	views, _ := newViews(t)

	out, err := views.GetAllocations(context.Background(), 1, models.RiskAverse, 63)
	if err != nil {
		t.Fatalf("get allocations: %v", err)
	}
	if len(out.Allocations) != 1 {
		t.Fatalf("expected a single filtered cell, got %d", len(out.Allocations))
	}
	alloc := out.Allocations[0]
	if alloc.Key != "Regime 1 - Risk Averse - 63 days" {
		t.Fatalf("unexpected key %q", alloc.Key)
	}
	if _, ok := alloc.Weights["SPY"]; ok {
		t.Fatalf("dust position should be filtered")
	}
	if len(alloc.Weights) != 2 {
		t.Fatalf("expected 2 active tickers, got %v", alloc.Weights)
	}
}

func TestGetAllocationsUnfiltered(t *testing.T) {
	views, _ := newViews(t)
	out, err := views.GetAllocations(context.Background(), -1, "", 0)
	if err != nil {
		t.Fatalf("get allocations: %v", err)
	}
	if len(out.Allocations) != 6 {
		t.Fatalf("expected all 6 cells, got %d", len(out.Allocations))
	}
}

func TestGetAssetClassesRollsUpWeights(t *testing.T) {
	views, _ := newViews(t)
	out, err := views.GetAssetClasses(context.Background())
	if err != nil {
		t.Fatalf("get asset classes: %v", err)
	}

	// every allocation holds 0.5 MAG7 + 0.495 Bonds + 0.005 Market_Indices
	if math.Abs(out.Average["MAG7"]-0.5) > 1e-9 {
		t.Fatalf("MAG7 average: expected 0.5, got %v", out.Average["MAG7"])
	}
	if math.Abs(out.Average["Bonds"]-0.495) > 1e-9 {
		t.Fatalf("Bonds average: expected 0.495, got %v", out.Average["Bonds"])
	}
	if math.Abs(out.ByRiskLevel["Risk Averse"]["MAG7"]-0.5) > 1e-9 {
		t.Fatalf("risk-level rollup wrong: %v", out.ByRiskLevel["Risk Averse"])
	}
	if math.Abs(out.ByRegime["Regime 0"]["Bonds"]-0.495) > 1e-9 {
		t.Fatalf("regime rollup wrong: %v", out.ByRegime["Regime 0"])
	}
}

func TestGetEquityCurvesOffsetsToZero(t *testing.T) {
	views, _ := newViews(t)
	out, err := views.GetEquityCurves(context.Background(), true, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("get curves: %v", err)
	}
	if len(out.Points) != 400 {
		t.Fatalf("expected 400 points, got %d", len(out.Points))
	}
	if v := out.Points[0].Values["SPY"]; math.Abs(v) > 1e-9 {
		t.Fatalf("rebased curve should start at 0, got %v", v)
	}
	if v := out.Points[399].Values["SPY"]; v <= 0 {
		t.Fatalf("growing curve should end positive, got %v", v)
	}
}

func TestGetEquityCurvesDateWindow(t *testing.T) {
	views, store := newViews(t)
	bt, err := store.LoadBacktest(context.Background())
	if err != nil {
		t.Fatalf("load backtest: %v", err)
	}
	from := bt.Dates[100]
	to := bt.Dates[199]

	out, err := views.GetEquityCurves(context.Background(), false, from, to)
	if err != nil {
		t.Fatalf("get curves: %v", err)
	}
	if len(out.Points) != 100 {
		t.Fatalf("expected 100 windowed points, got %d", len(out.Points))
	}
	if out.Points[0].Date != from.Format("2006-01-02") {
		t.Fatalf("window start mismatch: %s", out.Points[0].Date)
	}
}

func TestGetMonthlyDataSamplesMonthEnds(t *testing.T) {
	views, _ := newViews(t)
	out, err := views.GetMonthlyData(context.Background(), "moderate")
	if err != nil {
		t.Fatalf("get monthly: %v", err)
	}
	if out.Variant != "Risk Neutral" {
		t.Fatalf("moderate should map to Risk Neutral, got %q", out.Variant)
	}
	if len(out.Points) != 12 {
		t.Fatalf("expected 12 monthly samples, got %d", len(out.Points))
	}
	// consecutive month-end samples of a growing curve must increase
	for i := 1; i < len(out.Points); i++ {
		if out.Points[i].Value <= out.Points[i-1].Value {
			t.Fatalf("month %s not increasing", out.Points[i].Month)
		}
	}
}

func TestGetMonthlyDataRejectsUnknownRiskLevel(t *testing.T) {
	views, _ := newViews(t)
	if _, err := views.GetMonthlyData(context.Background(), "yolo"); err == nil {
		t.Fatalf("expected error for unknown risk level")
	}
}
