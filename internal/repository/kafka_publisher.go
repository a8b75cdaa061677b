package repository

import (
	"context"
	"fmt"

	"RegimeFolio/internal/domain/models"
	domrepo "RegimeFolio/internal/domain/repository"
	pkgkafka "RegimeFolio/pkg/kafka"
	applogger "RegimeFolio/pkg/logger"
)

const (
	eventAnalysisCompleted = "analysis.completed"
	eventRegimeChanged     = "regime.changed"
	eventLogAggregate      = "log.aggregate"
)

// KafkaPublisher emits pipeline lifecycle events to the events topic.
// The event name rides in the message key so consumers can route
// without decoding the payload.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	l        *applogger.Logger
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string, l *applogger.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, l: l}
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)
var _ applogger.Publisher = (*KafkaPublisher)(nil)

// PublishMessage ships aggregated log batches from the log collector.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, []byte(eventLogAggregate), payload)
}

func (p *KafkaPublisher) PublishAnalysisCompleted(ctx context.Context, e *models.AnalysisCompletedEvent) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(eventAnalysisCompleted), e); err != nil {
		return fmt.Errorf("publish %s: %w", eventAnalysisCompleted, err)
	}
	p.l.Info("published event",
		applogger.String("event", eventAnalysisCompleted),
		applogger.String("run_id", e.RunID),
	)
	return nil
}

func (p *KafkaPublisher) PublishRegimeChanged(ctx context.Context, e *models.RegimeChangedEvent) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(eventRegimeChanged), e); err != nil {
		return fmt.Errorf("publish %s: %w", eventRegimeChanged, err)
	}
	p.l.Info("published event",
		applogger.String("event", eventRegimeChanged),
		applogger.Int("previous", e.Previous),
		applogger.Int("current", e.Current),
	)
	return nil
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }
