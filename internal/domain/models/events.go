package models

import "time"

// AnalysisCompletedEvent is emitted after a full pipeline run.
type AnalysisCompletedEvent struct {
	RunID       string    `json:"run_id"`
	CompletedAt time.Time `json:"completed_at"`
	Regimes     int       `json:"regimes"`
	Allocations int       `json:"allocations"`
	FailedCells int       `json:"failed_cells"`
	DurationMS  int64     `json:"duration_ms"`
}

// RegimeChangedEvent is emitted when the latest smoothed regime differs
// from the previous run's latest regime.
type RegimeChangedEvent struct {
	RunID     string    `json:"run_id"`
	Date      time.Time `json:"date"`
	Previous  int       `json:"previous"`
	Current   int       `json:"current"`
	EmittedAt time.Time `json:"emitted_at"`
}

// RecomputeTrigger is the consumer-side message that requests a fresh
// pipeline run, typically published after new market data lands.
type RecomputeTrigger struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}
