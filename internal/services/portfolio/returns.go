package portfolio

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"RegimeFolio/internal/domain/models"
)

// horizonReturns converts daily returns into rolling horizon-sum
// returns. Row i of the output covers days [i-h+1, i] of the input and
// keeps day i's date, so the first h-1 rows are dropped. A window that
// contains any missing daily value yields a missing horizon value.
func horizonReturns(t *models.ReturnTable, horizon int) *models.ReturnTable {
	rows := t.Rows()
	if rows < horizon {
		return &models.ReturnTable{Tickers: t.Tickers}
	}

	nt := len(t.Tickers)
	out := &models.ReturnTable{
		Dates:   append([]time.Time(nil), t.Dates[horizon-1:]...),
		Tickers: t.Tickers,
		Data:    make([]float64, (rows-horizon+1)*nt),
	}

	for j := 0; j < nt; j++ {
		for i := horizon - 1; i < rows; i++ {
			sum := 0.0
			ok := true
			for d := i - horizon + 1; d <= i; d++ {
				v := t.At(d, j)
				if models.IsMissing(v) {
					ok = false
					break
				}
				sum += v
			}
			if ok {
				out.Set(i-horizon+1, j, sum)
			} else {
				out.Set(i-horizon+1, j, models.Missing())
			}
		}
	}
	return out
}

// regimeRows selects the horizon-return rows whose date falls in the
// given smoothed regime.
func regimeRows(t *models.ReturnTable, labels *models.RegimeLabels, regime int) []int {
	want := make(map[int64]struct{})
	for i, d := range labels.Dates {
		if labels.Smoothed[i] == regime {
			want[d.Unix()] = struct{}{}
		}
	}
	var rows []int
	for i, d := range t.Dates {
		if _, ok := want[d.Unix()]; ok {
			rows = append(rows, i)
		}
	}
	return rows
}

// moments estimates the mean vector and covariance matrix over the
// selected rows using pairwise-complete observations. Tickers with
// fewer than minObs observations are excluded; the returned ticker
// list is the surviving subset in table order.
func moments(t *models.ReturnTable, rows []int, minObs int) ([]string, []float64, *mat.SymDense) {
	nt := len(t.Tickers)

	// per-ticker complete counts and means
	counts := make([]int, nt)
	sums := make([]float64, nt)
	for _, i := range rows {
		for j := 0; j < nt; j++ {
			if v := t.At(i, j); !models.IsMissing(v) {
				counts[j]++
				sums[j] += v
			}
		}
	}

	var keep []int
	for j := 0; j < nt; j++ {
		if counts[j] >= minObs {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		return nil, nil, nil
	}

	tickers := make([]string, len(keep))
	mu := make([]float64, len(keep))
	for k, j := range keep {
		tickers[k] = t.Tickers[j]
		mu[k] = sums[j] / float64(counts[j])
	}

	sigma := mat.NewSymDense(len(keep), nil)
	for a := 0; a < len(keep); a++ {
		for b := a; b < len(keep); b++ {
			ja, jb := keep[a], keep[b]
			var cov float64
			var n int
			for _, i := range rows {
				va, vb := t.At(i, ja), t.At(i, jb)
				if models.IsMissing(va) || models.IsMissing(vb) {
					continue
				}
				cov += (va - mu[a]) * (vb - mu[b])
				n++
			}
			if n > 1 {
				cov /= float64(n - 1)
			} else {
				cov = 0
			}
			sigma.SetSym(a, b, cov)
		}
	}
	return tickers, mu, sigma
}

// ridgeRegularize adds epsilon to the diagonal until the matrix admits
// a Cholesky factorization, doubling each attempt. Gives up after a
// bounded number of rounds and reports failure.
func ridgeRegularize(sigma *mat.SymDense, epsilon float64) bool {
	n := sigma.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(sigma) {
		return true
	}

	eps := epsilon
	for round := 0; round < 32; round++ {
		for i := 0; i < n; i++ {
			sigma.SetSym(i, i, sigma.At(i, i)+eps)
		}
		if chol.Factorize(sigma) {
			return true
		}
		eps *= 2
	}
	return false
}

// portfolioVariance computes w'Σw.
func portfolioVariance(w []float64, sigma *mat.SymDense) float64 {
	n := len(w)
	var v float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v += w[i] * w[j] * sigma.At(i, j)
		}
	}
	return math.Max(v, 0)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
