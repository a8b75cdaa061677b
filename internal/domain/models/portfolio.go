package models

import "fmt"

// RiskAppetite selects the optimization objective for one grid cell.
type RiskAppetite string

const (
	RiskAverse  RiskAppetite = "risk_averse"
	RiskNeutral RiskAppetite = "risk_neutral"
	RiskLoving  RiskAppetite = "risk_loving"
)

// Appetites lists the grid axis in canonical order.
func Appetites() []RiskAppetite {
	return []RiskAppetite{RiskAverse, RiskNeutral, RiskLoving}
}

// Label returns the human-facing form used in allocation keys.
func (r RiskAppetite) Label() string {
	switch r {
	case RiskAverse:
		return "Risk Averse"
	case RiskNeutral:
		return "Risk Neutral"
	case RiskLoving:
		return "Risk Loving"
	}
	return string(r)
}

// Valid reports whether the appetite is one of the three known values.
func (r RiskAppetite) Valid() bool {
	switch r {
	case RiskAverse, RiskNeutral, RiskLoving:
		return true
	}
	return false
}

// TripleKey identifies one optimization grid cell.
type TripleKey struct {
	Regime   int
	Appetite RiskAppetite
	Horizon  int
}

// String renders the canonical allocation key, e.g.
// "Regime 2 - Risk Averse - 63 days".
func (k TripleKey) String() string {
	return fmt.Sprintf("Regime %d - %s - %d days", k.Regime, k.Appetite.Label(), k.Horizon)
}

// Allocation is one solved portfolio for a grid cell. Weights sum to 1
// over the tickers present; tickers with zero weight are kept so the
// vector stays aligned with the universe.
type Allocation struct {
	Key     TripleKey
	Weights map[string]float64

	ExpectedReturn float64 // annualized, horizon-scaled
	Volatility     float64 // annualized
	Sharpe         float64
	HorizonReturn  float64 // expected return at horizon granularity
	HorizonRisk    float64 // volatility at horizon granularity
	ActiveAssets   int     // tickers weighted above 1%
	Observations   int
}

// ActiveTickers returns tickers holding more than the display threshold.
func (a *Allocation) ActiveTickers(threshold float64) []string {
	out := make([]string, 0, len(a.Weights))
	for t, w := range a.Weights {
		if w > threshold {
			out = append(out, t)
		}
	}
	return out
}

// OptimizationResult is the full grid output. Failed holds the cells
// that were skipped or failed to converge, keyed by the same string as
// successful allocations so callers can report both sides.
type OptimizationResult struct {
	Allocations map[string]Allocation
	Failed      map[string]error
}
