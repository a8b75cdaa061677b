package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"RegimeFolio/internal/domain/models"
)

const tradingDaysPerYear = 252.0

// rebase compounds daily returns into a curve starting at base. The
// first date anchors the base, so day one's return is absorbed into
// the starting point.
func rebase(name string, dates []time.Time, daily []float64, base float64) models.EquityCurve {
	values := make([]float64, len(daily))
	if len(values) > 0 {
		values[0] = base
		for i := 1; i < len(daily); i++ {
			values[i] = values[i-1] * (1 + daily[i])
		}
	}
	return models.EquityCurve{Name: name, Dates: dates, Values: values}
}

// computeMetrics summarizes a daily return series. Annualized return is
// geometric, volatility scales by sqrt(252), Sharpe uses a zero
// risk-free rate and max drawdown is reported as a non-positive number.
func computeMetrics(name string, daily []float64) models.PerformanceMetrics {
	m := models.PerformanceMetrics{Name: name, Days: len(daily)}
	if len(daily) == 0 {
		return m
	}

	cum := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range daily {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := cum/peak - 1; dd < maxDD {
			maxDD = dd
		}
	}

	m.TotalReturn = cum - 1
	m.MaxDrawdown = maxDD
	if cum > 0 {
		m.AnnualizedReturn = math.Pow(cum, tradingDaysPerYear/float64(len(daily))) - 1
	} else {
		m.AnnualizedReturn = -1
	}

	if len(daily) > 1 {
		m.Volatility = stat.StdDev(daily, nil) * math.Sqrt(tradingDaysPerYear)
	}
	if m.Volatility > 0 {
		m.Sharpe = m.AnnualizedReturn / m.Volatility
	}
	return m
}
