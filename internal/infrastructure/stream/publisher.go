// Package stream publishes fired alerts to a Kafka topic for downstream
// consumers.
package stream

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// Publisher writes JSON alert payloads to the alert topic, keyed by symbol so
// per-symbol ordering survives partitioning.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewPublisher creates a Kafka publisher for fired alerts. log may be nil.
func NewPublisher(cfg config.KafkaConfig, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})
	return &Publisher{writer: writer, log: log}
}

// Deliver publishes one alert and reports whether the write succeeded.
func (p *Publisher) Deliver(ctx context.Context, event *alertv1.AlertEvent) bool {
	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error("encode alert event", zap.Error(err))
		return false
	}
	msg := kafka.Message{
		Key:   []byte(event.Code),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("publish alert event failed",
			zap.String("code", event.Code),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return false
	}
	return true
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
