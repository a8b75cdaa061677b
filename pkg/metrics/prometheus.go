package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pipelineRuns   *prometheus.CounterVec
	pipelineTook   *prometheus.HistogramVec
	gridCells      *prometheus.CounterVec
	solverDuration prometheus.Histogram
	regimeCount    prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		pipelineRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimefolio_pipeline_runs_total",
				Help: "Total number of analysis pipeline runs by status",
			},
			[]string{"status"},
		),
		pipelineTook: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimefolio_pipeline_duration_seconds",
				Help:    "Wall-clock duration of analysis pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"status"},
		),
		gridCells: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimefolio_grid_cells_total",
				Help: "Optimization grid cells by outcome",
			},
			[]string{"status"},
		),
		solverDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "regimefolio_solver_duration_seconds",
				Help:    "Duration of single-cell portfolio solves",
				Buckets: prometheus.DefBuckets,
			},
		),
		regimeCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "regimefolio_regime_count",
				Help: "Number of regimes selected by the last detection run",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimefolio_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordPipelineRun records one pipeline run outcome and duration.
func (r *Recorder) RecordPipelineRun(status string, seconds float64) {
	r.pipelineRuns.WithLabelValues(status).Inc()
	r.pipelineTook.WithLabelValues(status).Observe(seconds)
}

// RecordGridCell records an optimization grid cell outcome.
func (r *Recorder) RecordGridCell(status string) {
	r.gridCells.WithLabelValues(status).Inc()
}

// RecordSolverDuration records one cell solve duration in seconds.
func (r *Recorder) RecordSolverDuration(seconds float64) {
	r.solverDuration.Observe(seconds)
}

// RecordRegimeCount records the chosen cluster count.
func (r *Recorder) RecordRegimeCount(k int) {
	r.regimeCount.Set(float64(k))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
