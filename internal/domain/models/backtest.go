package models

import "time"

// EquityCurve is one rebased cumulative-value series.
type EquityCurve struct {
	Name   string
	Dates  []time.Time
	Values []float64
}

// PerformanceMetrics summarizes one equity curve.
type PerformanceMetrics struct {
	Name             string
	AnnualizedReturn float64
	Volatility       float64
	Sharpe           float64
	MaxDrawdown      float64 // <= 0
	TotalReturn      float64
	Days             int
}

// BacktestResult is the full simulation output: one curve and one
// metrics row per strategy variant plus the benchmark, all rebased to
// the same starting value on the same date axis.
type BacktestResult struct {
	Dates        []time.Time
	Curves       []EquityCurve
	Metrics      []PerformanceMetrics
	DegradedDays map[string]int // variant name -> days on carried-forward weights
}

// Curve returns the named curve, or nil.
func (r *BacktestResult) Curve(name string) *EquityCurve {
	for i := range r.Curves {
		if r.Curves[i].Name == name {
			return &r.Curves[i]
		}
	}
	return nil
}
