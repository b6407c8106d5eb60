package repository

import (
	"context"
	"fmt"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/kafka"
	"TradePilot/pkg/logger"
)

// EventSink publishes core events to Kafka, keyed for per-symbol and
// per-order ordering. Delivery is at-least-once; publish failures are
// logged and counted, never propagated into trading decisions.
type EventSink struct {
	producer *kafka.Producer
	topic    string
	metrics  drepo.Metrics
	logger   *logger.Logger
}

// NewEventSink creates a sink publishing to topic.
func NewEventSink(producer *kafka.Producer, topic string, metrics drepo.Metrics, lgr *logger.Logger) *EventSink {
	return &EventSink{producer: producer, topic: topic, metrics: metrics, logger: lgr}
}

// Emit publishes one event.
func (s *EventSink) Emit(ctx context.Context, e models.Event) error {
	if err := s.producer.Publish(ctx, s.topic, []byte(e.Key), e); err != nil {
		s.metrics.RecordError("event_publish")
		s.logger.Warn("event publish failed",
			logger.String("event", e.Name),
			logger.String("key", e.Key),
			logger.Error(err))
		return fmt.Errorf("publish %s: %w", e.Name, err)
	}
	return nil
}

// Close closes the underlying producer.
func (s *EventSink) Close() error {
	return s.producer.Close()
}

var _ drepo.EventSink = (*EventSink)(nil)
