package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"RegimeFolio/internal/domain/models"
)

const penaltyWeight = 1000.0

// solveMinVariance minimizes w'Σw over long-only weights summing to 1.
// The budget constraint is enforced by a quadratic penalty; bounds are
// enforced by projection inside the objective.
func solveMinVariance(ctx context.Context, sigma *mat.SymDense) ([]float64, error) {
	n := sigma.SymmetricDim()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectToBounds(x)
			obj := portfolioVariance(w, sigma)
			sum := floats.Sum(w)
			obj += penaltyWeight * (sum - 1) * (sum - 1)
			return obj
		},
		Grad: func(grad, x []float64) {
			w := projectToBounds(x)
			for i := 0; i < n; i++ {
				grad[i] = 0
				for j := 0; j < n; j++ {
					grad[i] += 2 * sigma.At(i, j) * w[j]
				}
			}
			sum := floats.Sum(w)
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1)
			}
		},
	}

	return runSolver(ctx, problem, n)
}

// solveMaxReturn maximizes μ'w subject to portfolio volatility staying
// at or below volCeiling, via a one-sided quadratic penalty on the
// variance excess.
func solveMaxReturn(ctx context.Context, mu []float64, sigma *mat.SymDense, volCeiling float64) ([]float64, error) {
	n := len(mu)
	varCeiling := volCeiling * volCeiling

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectToBounds(x)
			obj := -dot(mu, w)
			sum := floats.Sum(w)
			obj += penaltyWeight * (sum - 1) * (sum - 1)
			if excess := portfolioVariance(w, sigma) - varCeiling; excess > 0 {
				obj += penaltyWeight * excess * excess
			}
			return obj
		},
		Grad: func(grad, x []float64) {
			w := projectToBounds(x)
			sum := floats.Sum(w)
			excess := portfolioVariance(w, sigma) - varCeiling
			for i := 0; i < n; i++ {
				grad[i] = -mu[i] + 2*penaltyWeight*(sum-1)
				if excess > 0 {
					var sv float64
					for j := 0; j < n; j++ {
						sv += sigma.At(i, j) * w[j]
					}
					grad[i] += penaltyWeight * 2 * excess * 2 * sv
				}
			}
		},
	}

	return runSolver(ctx, problem, n)
}

// solveMaxSharpe maximizes μ'w / sqrt(w'Σw) with risk-free rate zero.
func solveMaxSharpe(ctx context.Context, mu []float64, sigma *mat.SymDense) ([]float64, error) {
	n := len(mu)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectToBounds(x)
			vol := math.Sqrt(portfolioVariance(w, sigma))
			var obj float64
			if vol > 1e-12 {
				obj = -dot(mu, w) / vol
			}
			sum := floats.Sum(w)
			obj += penaltyWeight * (sum - 1) * (sum - 1)
			return obj
		},
	}

	return runSolver(ctx, problem, n)
}

// runSolver starts from equal weights, tries BFGS and falls back to
// Nelder-Mead, then projects and renormalizes the result. The context
// deadline caps each Minimize call's wall-clock time.
func runSolver(ctx context.Context, problem optimize.Problem, n int) ([]float64, error) {
	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	var result *optimize.Result
	var err error
	if problem.Grad != nil {
		result, err = minimizeWithin(ctx, problem, initial, &optimize.BFGS{})
	} else {
		result, err = minimizeWithin(ctx, problem, initial, &optimize.NelderMead{})
	}
	if err != nil || !converged(result) {
		result, err = minimizeWithin(ctx, problem, initial, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrSolverNonConvergence, err)
		}
	}
	if !converged(result) {
		return nil, fmt.Errorf("%w: status=%v", models.ErrSolverNonConvergence, result.Status)
	}

	w := projectToBounds(result.X)
	sum := floats.Sum(w)
	if sum <= 1e-10 {
		return nil, fmt.Errorf("%w: weights collapsed to zero", models.ErrSolverNonConvergence)
	}
	for i := range w {
		w[i] /= sum
	}
	return w, nil
}

// minimizeWithin runs one Minimize attempt bounded by whatever remains
// of the context deadline.
func minimizeWithin(ctx context.Context, problem optimize.Problem, initial []float64, method optimize.Method) (*optimize.Result, error) {
	settings := &optimize.Settings{}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: solve budget exhausted", models.ErrSolverNonConvergence)
		}
		settings.Runtime = remaining
	}
	return optimize.Minimize(problem, initial, settings, method)
}

func converged(r *optimize.Result) bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}

// projectToBounds clamps each weight into [0, 1].
func projectToBounds(x []float64) []float64 {
	w := make([]float64, len(x))
	for i, v := range x {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		w[i] = v
	}
	return w
}
