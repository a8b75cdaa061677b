package usecase

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"RegimeFolio/internal/domain/models"
	domrepo "RegimeFolio/internal/domain/repository"
	pkgkafka "RegimeFolio/pkg/kafka"
	"RegimeFolio/pkg/logger"
)

// RecomputeHandler consumes recompute-trigger messages and reruns the
// analysis pipeline. Triggers arriving while a run is in flight are
// dropped; the running pipeline will already see the new data.
type RecomputeHandler struct {
	topic    string
	pipeline *AnalysisPipeline
	metrics  domrepo.Metrics
	log      *logger.Logger
	running  atomic.Bool
}

func NewRecomputeHandler(topic string, pipeline *AnalysisPipeline, metrics domrepo.Metrics, log *logger.Logger) *RecomputeHandler {
	return &RecomputeHandler{topic: topic, pipeline: pipeline, metrics: metrics, log: log}
}

func (h *RecomputeHandler) Topic() string { return h.topic }

func (h *RecomputeHandler) Handle(ctx context.Context, b []byte) error {
	var trigger models.RecomputeTrigger
	if err := json.Unmarshal(b, &trigger); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("trigger_unmarshal")
		}
		return err
	}

	if !h.running.CompareAndSwap(false, true) {
		h.log.Info("recompute trigger skipped, run already in flight",
			logger.String("reason", trigger.Reason))
		return nil
	}
	defer h.running.Store(false)

	h.log.Info("recompute trigger received", logger.String("reason", trigger.Reason))
	if _, err := h.pipeline.Run(ctx); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("trigger_run")
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*RecomputeHandler)(nil)
