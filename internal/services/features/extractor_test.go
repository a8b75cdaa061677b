package features

import (
	"context"
	"math"
	"testing"
	"time"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewExtractor(config.AnalysisConfig{OutlierZScore: 4}, log)
}

func bars(ticker string, n int, start float64, step float64) []models.PriceBar {
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]models.PriceBar, n)
	for i := range out {
		out[i] = models.PriceBar{
			Date:   day,
			Ticker: ticker,
			Close:  start + step*float64(i),
			Volume: 1e6,
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func TestExtractBuildsMarketFeatures(t *testing.T) {
	ext := testExtractor(t)
	prices := append(bars("AAA", 60, 100, 0.5), bars("BBB", 60, 50, -0.1)...)

	m, err := ext.Extract(context.Background(), prices, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(m.Features) != 6 {
		t.Fatalf("expected 6 features, got %v", m.Features)
	}
	// volatility window needs 5 observations, so warmup rows drop
	if m.Rows() >= 60 || m.Rows() == 0 {
		t.Fatalf("expected trimmed warmup, got %d rows", m.Rows())
	}
	for i := 0; i < m.Rows(); i++ {
		for j := range m.Features {
			if math.IsNaN(m.At(i, j)) {
				t.Fatalf("NaN at row %d feature %s", i, m.Features[j])
			}
		}
	}
}

func TestExtractRSIReflectsTrend(t *testing.T) {
	ext := testExtractor(t)
	// steadily rising market: average RSI should sit near 100
	prices := bars("UP", 60, 100, 1)

	m, err := ext.Extract(context.Background(), prices, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	j := -1
	for k, name := range m.Features {
		if name == "average_rsi" {
			j = k
		}
	}
	last := m.At(m.Rows()-1, j)
	if last < 90 {
		t.Fatalf("rising series should have RSI near 100, got %v", last)
	}
}

func TestExtractAlignsBenchmark(t *testing.T) {
	ext := testExtractor(t)
	prices := bars("AAA", 40, 100, 0.5)

	dates := make([]time.Time, 40)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	data := make([]float64, 40)
	for i := range dates {
		dates[i] = day
		day = day.AddDate(0, 0, 1)
		data[i] = 0.003
	}
	bench := &models.ReturnTable{Dates: dates, Tickers: []string{"SPY"}, Data: data}

	m, err := ext.Extract(context.Background(), prices, bench)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	j := -1
	for k, name := range m.Features {
		if name == "benchmark_return" {
			j = k
		}
	}
	if got := m.At(0, j); math.Abs(got-0.003) > 1e-12 {
		t.Fatalf("benchmark return not aligned: %v", got)
	}
}

func TestExtractRejectsEmptyInput(t *testing.T) {
	ext := testExtractor(t)
	if _, err := ext.Extract(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestFillGapsForwardThenBackward(t *testing.T) {
	x := []float64{math.NaN(), 2, math.NaN(), math.NaN(), 5}
	fillGaps(x)
	want := []float64{2, 2, 2, 2, 5}
	for i := range want {
		if x[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], x[i])
		}
	}
}

func TestZeroOutliersNeutralizesSpikes(t *testing.T) {
	rets := make([]float64, 100)
	for i := range rets {
		rets[i] = 0.001 * float64(i%3)
	}
	rets[50] = 5.0 // absurd single-day return
	zeroOutliers(rets, 4)
	if rets[50] != 0 {
		t.Fatalf("spike should be zeroed, got %v", rets[50])
	}
	if rets[10] != 0.001 {
		t.Fatalf("normal returns must survive, got %v", rets[10])
	}
}
