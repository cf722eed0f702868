// Package engine evaluates the fixed alerting rule set against
// consignment state and creates operator alerts.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/metrics"
	"github.com/parcelops/scan-engine/internal/predictor"
	"github.com/parcelops/scan-engine/internal/store"
	"github.com/parcelops/scan-engine/internal/taxonomy"
)

// Rule ids for the five fixed rules.
const (
	RuleDeliveryException    = "delivery_exception"
	RuleNoMovement           = "no_movement"
	RuleMissedScan           = "missed_scan"
	RuleDelayWarningUpcoming = "delay_warning_upcoming"
	RuleDelayWarningPastDue  = "delay_warning_past_due"
)

// Rule describes one fixed threshold rule.
type Rule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Threshold   time.Duration  `json:"threshold"`
	Severity    store.Severity `json:"severity"`
	Description string         `json:"description"`
}

// AlertSink receives newly created alerts for fan-out (realtime feed,
// Kafka). Implementations must not block for long; they run inside the
// per-AWB critical section.
type AlertSink interface {
	PublishAlerts(alerts []*store.Alert)
}

// Engine checks the five fixed rules against a consignment and creates
// alerts in the store for each rule whose condition currently holds.
type Engine struct {
	cfg       config.AlertingConfig
	logger    *slog.Logger
	alerts    *store.Store
	predictor *predictor.Predictor
	metrics   *metrics.Collector
	sinks     []AlertSink
	now       func() time.Time
}

// New creates a rule engine. A nil clock defaults to time.Now.
func New(
	cfg config.AlertingConfig,
	logger *slog.Logger,
	alerts *store.Store,
	pred *predictor.Predictor,
	collector *metrics.Collector,
	now func() time.Time,
) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.NoMovementThreshold <= 0 {
		cfg.NoMovementThreshold = 8 * time.Hour
	}
	if cfg.MissedScanThreshold <= 0 {
		cfg.MissedScanThreshold = 2 * time.Hour
	}
	if cfg.DelayWarningWindow <= 0 {
		cfg.DelayWarningWindow = 4 * time.Hour
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		alerts:    alerts,
		predictor: pred,
		metrics:   collector,
		now:       now,
	}
}

// AddSink registers a fan-out target for newly created alerts. Called
// at wiring time, before any evaluation runs.
func (e *Engine) AddSink(sink AlertSink) {
	e.sinks = append(e.sinks, sink)
}

// Rules returns the fixed rule definitions.
func (e *Engine) Rules() []Rule {
	return []Rule{
		{
			ID:          RuleDeliveryException,
			Name:        "Delivery Exception",
			Severity:    store.SeverityHigh,
			Description: "A delivery exception scan was recorded",
		},
		{
			ID:          RuleNoMovement,
			Name:        "No Movement",
			Threshold:   e.cfg.NoMovementThreshold,
			Severity:    store.SeverityCritical,
			Description: "No scan activity beyond the movement threshold",
		},
		{
			ID:          RuleMissedScan,
			Name:        "Missed Scan",
			Threshold:   e.cfg.MissedScanThreshold,
			Severity:    store.SeverityMedium,
			Description: "Expected scan cadence missed on an undelivered shipment",
		},
		{
			ID:          RuleDelayWarningUpcoming,
			Name:        "Delay Warning",
			Threshold:   e.cfg.DelayWarningWindow,
			Severity:    store.SeverityHigh,
			Description: "Delivery commitment is close and at risk",
		},
		{
			ID:          RuleDelayWarningPastDue,
			Name:        "Past Estimated Delivery",
			Severity:    store.SeverityHigh,
			Description: "Delivery commitment has passed without delivery",
		},
	}
}

// draft is an alert candidate produced by a rule check.
type draft struct {
	ruleID      string
	severity    store.Severity
	description string
	details     map[string]any
}

// Evaluate runs all five rules independently against the consignment
// and creates an alert for every rule that currently fires. Rules never
// suppress each other, and a panic in one check is contained so the
// remaining rules still run. Returns the newly created alerts.
func (e *Engine) Evaluate(c *consignment.Consignment) []*store.Alert {
	started := e.now()
	defer func() {
		e.metrics.EvaluationObserved(time.Since(started))
	}()

	pred := e.predictor.Predict(c)

	checks := []func(*consignment.Consignment, predictor.Prediction) *draft{
		e.checkDeliveryException,
		e.checkNoMovement,
		e.checkMissedScan,
		e.checkDelayWarningUpcoming,
		e.checkDelayWarningPastDue,
	}

	created := make([]*store.Alert, 0)
	for _, check := range checks {
		d := e.runCheck(check, c, pred)
		if d == nil {
			continue
		}
		if e.cfg.DeduplicationEnabled && e.alerts.HasOpen(c.AWB, d.ruleID) {
			e.logger.Debug("Alert suppressed by deduplication",
				"awb", c.AWB, "rule_id", d.ruleID)
			continue
		}
		alert := e.alerts.Create(&store.Alert{
			AWB:         c.AWB,
			RuleID:      d.ruleID,
			Severity:    d.severity,
			Description: d.description,
			Details:     d.details,
		})
		e.metrics.AlertCreated(d.ruleID, string(d.severity))
		created = append(created, alert)
	}

	if len(created) > 0 {
		for _, sink := range e.sinks {
			sink.PublishAlerts(created)
		}
	}

	e.logger.Debug("Consignment evaluated",
		"awb", c.AWB,
		"alerts_created", len(created),
		"delay_probability", pred.DelayProbability,
		"risk_level", pred.RiskLevel)

	return created
}

// runCheck isolates a single rule so a panic in one check cannot keep
// the other rules from running.
func (e *Engine) runCheck(
	check func(*consignment.Consignment, predictor.Prediction) *draft,
	c *consignment.Consignment,
	pred predictor.Prediction,
) (d *draft) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Rule check panicked", "awb", c.AWB, "panic", r)
			d = nil
		}
	}()
	return check(c, pred)
}

func (e *Engine) checkDeliveryException(c *consignment.Consignment, _ predictor.Prediction) *draft {
	for i := range c.Scans {
		if c.Scans[i].Type == taxonomy.TypeDeliveryException {
			return &draft{
				ruleID:      RuleDeliveryException,
				severity:    store.SeverityHigh,
				description: fmt.Sprintf("Delivery exception recorded for %s", c.AWB),
				details:     map[string]any{"scanType": c.Scans[i].Type},
			}
		}
	}
	return nil
}

func (e *Engine) checkNoMovement(c *consignment.Consignment, _ predictor.Prediction) *draft {
	last := c.LastScan()
	if last == nil || last.Timestamp.IsZero() {
		return nil
	}
	since := e.now().Sub(last.Timestamp)
	if since <= e.cfg.NoMovementThreshold {
		return nil
	}
	return &draft{
		ruleID:      RuleNoMovement,
		severity:    store.SeverityCritical,
		description: fmt.Sprintf("No movement on %s for %.1f hours", c.AWB, since.Hours()),
		details:     map[string]any{"hoursSinceLastScan": since.Hours()},
	}
}

func (e *Engine) checkMissedScan(c *consignment.Consignment, _ predictor.Prediction) *draft {
	if c.Status == consignment.StatusDelivered {
		return nil
	}
	last := c.LastScan()
	if last == nil || last.Timestamp.IsZero() {
		return nil
	}
	since := e.now().Sub(last.Timestamp)
	if since <= e.cfg.MissedScanThreshold {
		return nil
	}
	return &draft{
		ruleID:      RuleMissedScan,
		severity:    store.SeverityMedium,
		description: fmt.Sprintf("Missed expected scan on %s, last scan %.1f hours ago", c.AWB, since.Hours()),
		details:     map[string]any{"hoursSinceLastScan": since.Hours()},
	}
}

func (e *Engine) checkDelayWarningUpcoming(c *consignment.Consignment, pred predictor.Prediction) *draft {
	if c.EstimatedDelivery.IsZero() {
		return nil
	}
	remaining := c.EstimatedDelivery.Sub(e.now())
	if remaining <= 0 || remaining >= e.cfg.DelayWarningWindow {
		return nil
	}
	return &draft{
		ruleID:      RuleDelayWarningUpcoming,
		severity:    store.SeverityHigh,
		description: fmt.Sprintf("Delivery for %s due in %.1f hours", c.AWB, remaining.Hours()),
		details: map[string]any{
			"hoursRemaining":   remaining.Hours(),
			"delayProbability": pred.DelayProbability,
			"riskLevel":        string(pred.RiskLevel),
		},
	}
}

func (e *Engine) checkDelayWarningPastDue(c *consignment.Consignment, pred predictor.Prediction) *draft {
	if c.EstimatedDelivery.IsZero() {
		return nil
	}
	remaining := c.EstimatedDelivery.Sub(e.now())
	if remaining >= 0 {
		return nil
	}
	behind := -remaining
	return &draft{
		ruleID:      RuleDelayWarningPastDue,
		severity:    store.SeverityHigh,
		description: fmt.Sprintf("Delivery for %s is %.1f hours past the estimate", c.AWB, behind.Hours()),
		details: map[string]any{
			"hoursBehind":      behind.Hours(),
			"message":          "PAST_ESTIMATED_DELIVERY",
			"delayProbability": pred.DelayProbability,
			"riskLevel":        string(pred.RiskLevel),
		},
	}
}
