package regime

import (
	"context"
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
		Seed:                42,
		KMin:                2,
		KMax:                10,
		ExplainedVariance:   0.90,
		KMeansMaxIterations: 300,
		SmoothingWindow:     21,
		SmoothingPasses:     3,
		ForwardWindow:       20,
		MinObservations:     30,
		OutlierZScore:       4,
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

// twoBlockFeatures builds a series whose first half and second half live
// in clearly separated feature clusters.
func twoBlockFeatures(n int) *models.FeatureMatrix {
	features := []string{"ret_mean", "ret_vol", "drawdown"}
	m := &models.FeatureMatrix{
		Dates:    make([]time.Time, n),
		Features: features,
		Data:     make([]float64, n*len(features)),
	}
	rng := rand.New(rand.NewSource(7))
	day := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		m.Dates[i] = day
		day = day.AddDate(0, 0, 1)
		base := 0.0
		if i >= n/2 {
			base = 8.0
		}
		for j := range features {
			m.Set(i, j, base+rng.NormFloat64()*0.3)
		}
	}
	return m
}

func TestDetectSeparatesTwoBlocks(t *testing.T) {
	det := NewDetector(testConfig(), testLogger(t), nil)
	feats := twoBlockFeatures(120)

	labels, err := det.Detect(context.Background(), feats)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if labels.K != 2 {
		t.Fatalf("expected k=2, got %d (silhouette %v)", labels.K, labels.Silhouette)
	}
	if len(labels.Smoothed) != 120 {
		t.Fatalf("expected 120 labels, got %d", len(labels.Smoothed))
	}

	firstHalf := labels.Smoothed[0]
	secondHalf := labels.Smoothed[119]
	if firstHalf == secondHalf {
		t.Fatalf("halves should land in different regimes")
	}
	for i := 0; i < 50; i++ {
		if labels.Smoothed[i] != firstHalf {
			t.Fatalf("day %d: expected regime %d, got %d", i, firstHalf, labels.Smoothed[i])
		}
	}
	for i := 70; i < 120; i++ {
		if labels.Smoothed[i] != secondHalf {
			t.Fatalf("day %d: expected regime %d, got %d", i, secondHalf, labels.Smoothed[i])
		}
	}
	if labels.ExplainedVariance < 0.90 {
		t.Fatalf("explained variance %v below target", labels.ExplainedVariance)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	det := NewDetector(testConfig(), testLogger(t), nil)
	feats := twoBlockFeatures(100)

	a, err := det.Detect(context.Background(), feats)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	b, err := det.Detect(context.Background(), feats)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if a.K != b.K {
		t.Fatalf("k differs across runs: %d vs %d", a.K, b.K)
	}
	for i := range a.Smoothed {
		if a.Smoothed[i] != b.Smoothed[i] {
			t.Fatalf("label %d differs across runs", i)
		}
	}
}

func TestDetectRejectsShortInput(t *testing.T) {
	det := NewDetector(testConfig(), testLogger(t), nil)
	feats := twoBlockFeatures(10)

	_, err := det.Detect(context.Background(), feats)
	if err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestSmoothLabelsRemovesFlips(t *testing.T) {
	labels := []int{0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	got := smoothLabels(labels, 5, 1, 2)
	for i, l := range got {
		if l != 0 {
			t.Fatalf("index %d: single-day flip should smooth away, got %d", i, l)
		}
	}
}

func TestSmoothLabelsTieGoesToLowest(t *testing.T) {
	// window of 4 at the boundary: two 1s and two 0s
	labels := []int{1, 1, 0, 0, 0, 0, 0, 0}
	got := smoothLabels(labels, 5, 1, 2)
	// at i=1 the truncated window [0..3] holds {1,1,0,0}: tie resolves to 0
	if got[1] != 0 {
		t.Fatalf("tie should resolve to lowest label, got %d", got[1])
	}
}

func TestSmoothLabelsTruncatesAtBoundaries(t *testing.T) {
	labels := []int{1, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	got := smoothLabels(labels, 21, 1, 2)
	if len(got) != len(labels) {
		t.Fatalf("length changed: %d", len(got))
	}
	// every truncated window is majority 0
	for i, l := range got {
		if l != 0 {
			t.Fatalf("index %d: expected 0, got %d", i, l)
		}
	}
}

func TestKMeansDeterministicForFixedSeed(t *testing.T) {
	data := mat.NewDense(6, 2, []float64{
		0, 0, 0.1, 0, 0, 0.1,
		5, 5, 5.1, 5, 5, 5.1,
	})
	a := kmeans(data, 2, 100, rand.New(rand.NewSource(42)))
	b := kmeans(data, 2, 100, rand.New(rand.NewSource(42)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("labels differ at %d", i)
		}
	}
	if a[0] == a[3] {
		t.Fatalf("blobs should split into different clusters")
	}
}

func TestSilhouettePrefersTrueSplit(t *testing.T) {
	data := mat.NewDense(8, 1, []float64{0, 0.1, 0.2, 0.1, 10, 10.1, 10.2, 10.1})
	two := kmeans(data, 2, 100, rand.New(rand.NewSource(42)))
	four := kmeans(data, 4, 100, rand.New(rand.NewSource(42)))
	s2 := silhouette(data, two, 2)
	s4 := silhouette(data, four, 4)
	if s2 <= s4 {
		t.Fatalf("k=2 should score above k=4: %v vs %v", s2, s4)
	}
}

func TestProfileComputesOccupancy(t *testing.T) {
	det := NewDetector(testConfig(), testLogger(t), nil)

	n := 60
	dates := make([]time.Time, n)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	labels := &models.RegimeLabels{K: 2, Smoothed: make([]int, n), Raw: make([]int, n)}
	bench := &models.ReturnTable{Tickers: []string{"SPY"}, Data: make([]float64, n)}
	for i := 0; i < n; i++ {
		dates[i] = day
		day = day.AddDate(0, 0, 1)
		if i >= n/2 {
			labels.Smoothed[i] = 1
			bench.Data[i] = -0.01
		} else {
			bench.Data[i] = 0.01
		}
	}
	labels.Dates = dates
	bench.Dates = dates

	feats := &models.FeatureMatrix{
		Dates:    dates,
		Features: []string{"ret_vol"},
		Data:     make([]float64, n),
	}
	for i := 0; i < n; i++ {
		v := 0.1
		if i >= n/2 {
			v = 0.5
		}
		feats.Set(i, 0, v)
	}

	profiles, err := det.Profile(labels, bench, feats)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	for _, p := range profiles {
		if p.Days != 30 {
			t.Fatalf("regime %d: expected 30 days, got %d", p.Regime, p.Days)
		}
		if math.Abs(p.Share-0.5) > 1e-9 {
			t.Fatalf("regime %d: expected share 0.5, got %v", p.Regime, p.Share)
		}
	}
	if profiles[0].MeanDailyRet <= 0 || profiles[1].MeanDailyRet >= 0 {
		t.Fatalf("mean returns should split by regime: %v / %v",
			profiles[0].MeanDailyRet, profiles[1].MeanDailyRet)
	}
	if math.Abs(profiles[0].FeatureMeans["ret_vol"]-0.1) > 1e-9 {
		t.Fatalf("regime 0: expected feature mean 0.1, got %v", profiles[0].FeatureMeans["ret_vol"])
	}
	if math.Abs(profiles[1].FeatureMeans["ret_vol"]-0.5) > 1e-9 {
		t.Fatalf("regime 1: expected feature mean 0.5, got %v", profiles[1].FeatureMeans["ret_vol"])
	}
}

func TestSmoothLabelsUpdatesWithinPass(t *testing.T) {
	// rewriting in place lets position 1's window see position 0's
	// freshly smoothed value during the same pass
	got := smoothLabels([]int{1, 0, 1, 1}, 3, 1, 2)
	want := []int{0, 0, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDetectRequiresTwoPointsPerCluster(t *testing.T) {
	cfg := testConfig()
	cfg.MinObservations = 5
	det := NewDetector(cfg, testLogger(t), nil)
	// 15 rows cannot support a scan up to k=10
	feats := twoBlockFeatures(15)

	if _, err := det.Detect(context.Background(), feats); err == nil {
		t.Fatalf("expected error when rows < 2*kMax")
	}
}

func TestRecenterReseedsEmptyCluster(t *testing.T) {
	points := [][]float64{{0, 0}, {0.1, 0}, {10, 10}}
	labels := []int{0, 0, 0}
	centers := [][]float64{{0, 0}, {50, 50}}

	recenter(points, labels, centers, 2)

	if centers[1][0] != 10 || centers[1][1] != 10 {
		t.Fatalf("empty cluster should reseed from the farthest point, got %v", centers[1])
	}
	if centers[1][0] == 0 && centers[1][1] == 0 {
		t.Fatalf("empty cluster collapsed to the origin")
	}
}

func countTransitions(labels []int) int {
	n := 0
	for i := 1; i < len(labels); i++ {
		if labels[i] != labels[i-1] {
			n++
		}
	}
	return n
}

func TestSmoothLabelsNeverAddsTransitions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		labels := make([]int, 300)
		for i := range labels {
			labels[i] = rng.Intn(3)
		}
		got := smoothLabels(labels, 21, 3, 3)
		if countTransitions(got) > countTransitions(labels) {
			t.Fatalf("trial %d: smoothing added transitions (%d > %d)",
				trial, countTransitions(got), countTransitions(labels))
		}
	}
}
