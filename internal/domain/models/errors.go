package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the analysis pipeline. Grid-cell failures wrap
// these with the cell key so callers can both match and report.
var (
	ErrInsufficientData     = errors.New("insufficient observations")
	ErrSolverNonConvergence = errors.New("solver did not converge")
	ErrDegenerateCovariance = errors.New("degenerate covariance matrix")
	ErrAlignment            = errors.New("no common dates across inputs")
	ErrMissingWeights       = errors.New("no allocation for regime")
	ErrUnknownRiskAppetite  = errors.New("unknown risk appetite")
)

// CellError ties a failure to its optimization grid cell.
type CellError struct {
	Key TripleKey
	Err error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key.String(), e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }
