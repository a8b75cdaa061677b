package models

import (
	"math"
	"time"
)

// FeatureMatrix is a dense date-by-feature table used as the regime
// detector input. Rows are trading days in ascending order.
type FeatureMatrix struct {
	Dates    []time.Time
	Features []string
	// Data is row-major: Data[i*len(Features)+j] is feature j on day i.
	Data []float64
}

func (m *FeatureMatrix) Rows() int { return len(m.Dates) }
func (m *FeatureMatrix) Cols() int { return len(m.Features) }

func (m *FeatureMatrix) At(i, j int) float64 {
	return m.Data[i*len(m.Features)+j]
}

func (m *FeatureMatrix) Set(i, j int, v float64) {
	m.Data[i*len(m.Features)+j] = v
}

// ReturnTable holds daily simple returns per ticker. Missing observations
// are NaN; consumers must use pairwise-complete statistics.
type ReturnTable struct {
	Dates   []time.Time
	Tickers []string
	// Data is row-major: Data[i*len(Tickers)+j] is ticker j's return on day i.
	Data []float64
}

func (t *ReturnTable) Rows() int { return len(t.Dates) }

func (t *ReturnTable) At(i, j int) float64 {
	return t.Data[i*len(t.Tickers)+j]
}

func (t *ReturnTable) Set(i, j int, v float64) {
	t.Data[i*len(t.Tickers)+j] = v
}

// TickerIndex returns the column of the given ticker, or -1.
func (t *ReturnTable) TickerIndex(ticker string) int {
	for j, s := range t.Tickers {
		if s == ticker {
			return j
		}
	}
	return -1
}

// Column copies out a single ticker's return series.
func (t *ReturnTable) Column(j int) []float64 {
	out := make([]float64, t.Rows())
	for i := range out {
		out[i] = t.At(i, j)
	}
	return out
}

// PriceBar is one daily observation for an asset.
type PriceBar struct {
	Date   time.Time
	Ticker string
	Close  float64
	Volume float64
}

// RegimeLabels is the detector output: one raw and one smoothed label
// per feature-matrix row, in the same date order.
type RegimeLabels struct {
	Dates    []time.Time
	Raw      []int
	Smoothed []int
	K        int
	// Silhouette holds the mean silhouette score per candidate k,
	// keyed by k, from the cluster-count scan.
	Silhouette map[int]float64
	// ExplainedVariance is the cumulative PCA variance ratio retained.
	ExplainedVariance float64
	Components        int
}

// LabelOn returns the smoothed regime on the given date, or -1 when the
// date is not a detector row.
func (l *RegimeLabels) LabelOn(d time.Time) int {
	for i, ld := range l.Dates {
		if ld.Equal(d) {
			return l.Smoothed[i]
		}
	}
	return -1
}

// RegimeProfile is the per-regime diagnostic summary. FeatureMeans
// holds the mean of every detector input feature over the regime's
// days, keyed by feature name.
type RegimeProfile struct {
	Regime        int
	Days          int
	Share         float64
	MeanDailyRet  float64
	DailyVol      float64
	ForwardRet    float64
	ForwardWindow int
	FirstDate     time.Time
	LastDate      time.Time
	FeatureMeans  map[string]float64
}

// IsMissing reports whether a return observation is absent.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Missing is the sentinel stored for absent observations.
func Missing() float64 { return math.NaN() }
