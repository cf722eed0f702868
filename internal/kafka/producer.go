package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/store"
)

// AlertMessage is the wire form of a newly created alert.
type AlertMessage struct {
	AlertID     string         `json:"alert_id"`
	AWB         string         `json:"awb"`
	RuleID      string         `json:"rule_id"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Producer publishes created alerts to the alerts topic. It implements
// engine.AlertSink.
type Producer struct {
	cfg    config.KafkaConfig
	logger *slog.Logger
	writer *kafka.Writer

	messageCount atomic.Int64
	errorCount   atomic.Int64
}

// NewProducer creates a Kafka producer for the alerts topic.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AlertsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &Producer{
		cfg:    cfg,
		logger: logger,
		writer: writer,
	}
}

// PublishAlerts writes one message per alert, keyed by AWB so alerts
// for the same shipment stay ordered within a partition.
func (p *Producer) PublishAlerts(alerts []*store.Alert) {
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		payload, err := json.Marshal(AlertMessage{
			AlertID:     a.ID,
			AWB:         a.AWB,
			RuleID:      a.RuleID,
			Severity:    string(a.Severity),
			Description: a.Description,
			Details:     a.Details,
			CreatedAt:   a.CreatedAt,
		})
		if err != nil {
			p.errorCount.Add(1)
			p.logger.Error("Failed to marshal alert message", "alert_id", a.ID, "error", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.AWB),
			Value: payload,
		})
	}
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.errorCount.Add(1)
		p.logger.Error("Failed to publish alerts", "count", len(msgs), "error", err)
		return
	}
	p.messageCount.Add(int64(len(msgs)))
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
