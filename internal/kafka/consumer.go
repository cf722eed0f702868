// Package kafka connects the engine to the scan-event stream: a
// consumer that ingests scans and triggers evaluation, and a producer
// that publishes created alerts.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/engine"
	"github.com/parcelops/scan-engine/internal/metrics"
)

// ScanMessage is an incoming scan event. The producer side is the
// ingestion collaborator (courier scanners, historical import).
type ScanMessage struct {
	AWB               string    `json:"awb"`
	ServiceType       string    `json:"service_type,omitempty"`
	EstimatedDelivery time.Time `json:"estimated_delivery,omitempty"`
	ScanType          string    `json:"scan_type"`
	Subcode           string    `json:"subcode,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Location          string    `json:"location"`
	FacilityCode      string    `json:"facility_code,omitempty"`
	OperatorID        string    `json:"operator_id,omitempty"`
}

// Consumer reads scan events, appends them to the consignment store and
// re-evaluates the affected consignment inside the per-AWB critical
// section.
type Consumer struct {
	cfg          config.KafkaConfig
	logger       *slog.Logger
	reader       *kafka.Reader
	consignments *consignment.Store
	engine       *engine.Engine
	metrics      *metrics.Collector

	wg           sync.WaitGroup
	messageCount atomic.Int64
	errorCount   atomic.Int64
}

// NewConsumer creates a Kafka consumer for the scan-events topic.
func NewConsumer(
	cfg config.KafkaConfig,
	logger *slog.Logger,
	consignments *consignment.Store,
	eng *engine.Engine,
	collector *metrics.Collector,
) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.ScanEventsTopic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{
		cfg:          cfg,
		logger:       logger,
		reader:       reader,
		consignments: consignments,
		engine:       eng,
		metrics:      collector,
	}
}

// Start launches the consumer workers. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer",
		"topic", c.cfg.ScanEventsTopic,
		"group_id", c.cfg.GroupID,
		"workers", c.cfg.WorkerCount)

	workers := c.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	<-ctx.Done()
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka reader", "error", err)
	}
	return ctx.Err()
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.errorCount.Add(1)
			c.logger.Error("Failed to fetch message", "worker", id, "error", err)
			continue
		}

		c.handleMessage(msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Failed to commit message", "worker", id, "error", err)
		}
	}
}

// handleMessage processes one scan event. Malformed messages are
// logged and skipped, never fatal.
func (c *Consumer) handleMessage(msg kafka.Message) {
	c.messageCount.Add(1)

	var scan ScanMessage
	if err := json.Unmarshal(msg.Value, &scan); err != nil {
		c.errorCount.Add(1)
		c.logger.Error("Malformed scan message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return
	}
	if scan.AWB == "" || scan.ScanType == "" {
		c.errorCount.Add(1)
		c.logger.Error("Scan message missing awb or scan_type",
			"partition", msg.Partition,
			"offset", msg.Offset)
		return
	}

	// First sighting of an AWB registers the consignment.
	c.consignments.Upsert(&consignment.Consignment{
		AWB:               scan.AWB,
		ServiceType:       scan.ServiceType,
		CreatedAt:         time.Now(),
		EstimatedDelivery: scan.EstimatedDelivery,
	})

	err := c.consignments.Update(scan.AWB, func(cons *consignment.Consignment) error {
		c.appendAndEvaluate(cons, scan)
		return nil
	})
	if err != nil {
		c.errorCount.Add(1)
		c.logger.Error("Failed to process scan", "awb", scan.AWB, "error", err)
		return
	}

	c.metrics.ScanIngested()
}

func (c *Consumer) appendAndEvaluate(cons *consignment.Consignment, scan ScanMessage) {
	consignment.Append(cons, consignment.Scan{
		Type:         scan.ScanType,
		Subcode:      scan.Subcode,
		Timestamp:    scan.Timestamp,
		Location:     scan.Location,
		FacilityCode: scan.FacilityCode,
		OperatorID:   scan.OperatorID,
	})
	c.engine.Evaluate(cons)
}

// Stats returns message counters for the status endpoint.
func (c *Consumer) Stats() map[string]any {
	return map[string]any{
		"topic":         c.cfg.ScanEventsTopic,
		"message_count": c.messageCount.Load(),
		"error_count":   c.errorCount.Load(),
	}
}
