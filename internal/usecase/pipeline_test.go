package usecase

import (
	"context"
	"testing"
	"time"

	"RegimeFolio/internal/domain/models"
)

type fakeMarketStore struct {
	tickers  []string
	prices   []models.PriceBar
	returns  *models.ReturnTable
	bench    *models.ReturnTable
	features *models.FeatureMatrix
}

func (f *fakeMarketStore) GetFeatureMatrix(ctx context.Context, from, to time.Time) (*models.FeatureMatrix, error) {
	return f.features, nil
}
func (f *fakeMarketStore) GetReturns(ctx context.Context, tickers []string, from, to time.Time) (*models.ReturnTable, error) {
	return f.returns, nil
}
func (f *fakeMarketStore) GetBenchmarkReturns(ctx context.Context, ticker string, from, to time.Time) (*models.ReturnTable, error) {
	return f.bench, nil
}
func (f *fakeMarketStore) GetPrices(ctx context.Context, tickers []string, from, to time.Time) ([]models.PriceBar, error) {
	return f.prices, nil
}
func (f *fakeMarketStore) Tickers(ctx context.Context) ([]string, error) { return f.tickers, nil }
func (f *fakeMarketStore) Health(ctx context.Context) error              { return nil }
func (f *fakeMarketStore) Close() error                                  { return nil }

type fakePublisher struct {
	completed []*models.AnalysisCompletedEvent
	changed   []*models.RegimeChangedEvent
}

func (f *fakePublisher) PublishAnalysisCompleted(ctx context.Context, e *models.AnalysisCompletedEvent) error {
	f.completed = append(f.completed, e)
	return nil
}
func (f *fakePublisher) PublishRegimeChanged(ctx context.Context, e *models.RegimeChangedEvent) error {
	f.changed = append(f.changed, e)
	return nil
}
func (f *fakePublisher) Close() error { return nil }

type stubExtractor struct {
	out   *models.FeatureMatrix
	calls int
}

func (s *stubExtractor) Extract(ctx context.Context, prices []models.PriceBar, benchmark *models.ReturnTable) (*models.FeatureMatrix, error) {
	s.calls++
	return s.out, nil
}

type stubDetector struct {
	out      *models.RegimeLabels
	profiles []models.RegimeProfile
	seen     *models.FeatureMatrix
}

func (s *stubDetector) Detect(ctx context.Context, features *models.FeatureMatrix) (*models.RegimeLabels, error) {
	s.seen = features
	return s.out, nil
}
func (s *stubDetector) Profile(labels *models.RegimeLabels, benchmark *models.ReturnTable, features *models.FeatureMatrix) ([]models.RegimeProfile, error) {
	return s.profiles, nil
}

type stubOptimizer struct{ out *models.OptimizationResult }

func (s *stubOptimizer) Optimize(ctx context.Context, returns *models.ReturnTable, labels *models.RegimeLabels) (*models.OptimizationResult, error) {
	return s.out, nil
}

type stubBacktest struct{ out *models.BacktestResult }

func (s *stubBacktest) Run(ctx context.Context, returns, benchmark *models.ReturnTable,
	labels *models.RegimeLabels, allocations *models.OptimizationResult) (*models.BacktestResult, error) {
	return s.out, nil
}

type pipelineStubs struct {
	market    *fakeMarketStore
	extractor *stubExtractor
	detector  *stubDetector
}

func pipelineFixture(t *testing.T, prevLatest int) (*AnalysisPipeline, *fakeResultStore, *fakePublisher) {
	pipe, results, pub, _ := pipelineFixtureWithStubs(t, prevLatest)
	return pipe, results, pub
}

func pipelineFixtureWithStubs(t *testing.T, prevLatest int) (*AnalysisPipeline, *fakeResultStore, *fakePublisher, *pipelineStubs) {
	t.Helper()

	dates := []time.Time{
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	labels := &models.RegimeLabels{
		Dates:    dates,
		Raw:      []int{0, 1},
		Smoothed: []int{0, 1},
		K:        2,
	}

	results := &fakeResultStore{}
	if prevLatest >= 0 {
		results.labels = &models.RegimeLabels{
			Dates:    dates[:1],
			Raw:      []int{prevLatest},
			Smoothed: []int{prevLatest},
			K:        2,
		}
	}

	grid := &models.OptimizationResult{
		Allocations: map[string]models.Allocation{"x": {}},
		Failed:      map[string]error{},
	}
	pub := &fakePublisher{}

	stubs := &pipelineStubs{
		market: &fakeMarketStore{
			tickers: []string{"AAPL"},
			prices:  []models.PriceBar{{Date: dates[0], Ticker: "AAPL", Close: 100}},
			returns: &models.ReturnTable{Dates: dates, Tickers: []string{"AAPL"}, Data: []float64{0, 0.01}},
			bench:   &models.ReturnTable{Dates: dates, Tickers: []string{"SPY"}, Data: []float64{0, 0.005}},
		},
		extractor: &stubExtractor{out: &models.FeatureMatrix{Dates: dates, Features: []string{"f"}, Data: []float64{1, 2}}},
		detector: &stubDetector{
			out:      labels,
			profiles: []models.RegimeProfile{{Regime: 0, Days: 1}, {Regime: 1, Days: 1}},
		},
	}

	pipe := NewAnalysisPipeline(PipelineDeps{
		Market:    stubs.market,
		Results:   results,
		Publisher: pub,
		Extractor: stubs.extractor,
		Detector:  stubs.detector,
		Optimizer: &stubOptimizer{out: grid},
		Backtest:  &stubBacktest{out: &models.BacktestResult{Dates: dates}},
		Benchmark: "SPY",
		Log:       viewsLogger(t),
	})
	return pipe, results, pub, stubs
}

func TestPipelinePersistsAndAnnounces(t *testing.T) {
	pipe, results, pub := pipelineFixture(t, -1)

	summary, err := pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Regimes != 2 || summary.Allocations != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if results.storedLabels == nil || results.storedGrid == nil || results.storedBT == nil {
		t.Fatalf("pipeline must persist labels, allocations and backtest")
	}
	if len(results.storedProfiles) != 2 {
		t.Fatalf("pipeline must persist the regime profiles, got %d", len(results.storedProfiles))
	}
	if len(pub.completed) != 1 {
		t.Fatalf("expected one completion event, got %d", len(pub.completed))
	}
	// first run has no previous regime to compare against
	if len(pub.changed) != 0 {
		t.Fatalf("no regime change expected on first run, got %d", len(pub.changed))
	}
}

func TestPipelineEmitsRegimeChange(t *testing.T) {
	pipe, _, pub := pipelineFixture(t, 0) // previous latest regime 0, new latest 1

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pub.changed) != 1 {
		t.Fatalf("expected a regime change event, got %d", len(pub.changed))
	}
	e := pub.changed[0]
	if e.Previous != 0 || e.Current != 1 {
		t.Fatalf("unexpected transition %d -> %d", e.Previous, e.Current)
	}
}

func TestPipelineStaysQuietWhenRegimeHolds(t *testing.T) {
	pipe, _, pub := pipelineFixture(t, 1) // previous latest matches the new one

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pub.changed) != 0 {
		t.Fatalf("regime held, no event expected, got %d", len(pub.changed))
	}
}

func TestPipelineUsesStoredFeaturesWhenFresh(t *testing.T) {
	pipe, _, _, stubs := pipelineFixtureWithStubs(t, -1)
	stored := &models.FeatureMatrix{
		Dates:    stubs.market.returns.Dates,
		Features: []string{"f"},
		Data:     []float64{3, 4},
	}
	stubs.market.features = stored

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if stubs.extractor.calls != 0 {
		t.Fatalf("extractor should be bypassed when stored features are fresh, called %d times", stubs.extractor.calls)
	}
	if stubs.detector.seen != stored {
		t.Fatalf("detector should receive the stored feature matrix")
	}
}

func TestPipelineExtractsWhenStoredFeaturesStale(t *testing.T) {
	pipe, _, _, stubs := pipelineFixtureWithStubs(t, -1)
	// stored matrix ends a day before the return history
	stubs.market.features = &models.FeatureMatrix{
		Dates:    stubs.market.returns.Dates[:1],
		Features: []string{"f"},
		Data:     []float64{3},
	}

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if stubs.extractor.calls != 1 {
		t.Fatalf("stale stored features must fall back to extraction, called %d times", stubs.extractor.calls)
	}
	if stubs.detector.seen != stubs.extractor.out {
		t.Fatalf("detector should receive the extracted matrix")
	}
}
