// Package metrics exposes Prometheus instrumentation for the scan
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus metrics for scans, evaluations and
// alerts. All methods are safe on a nil receiver so instrumentation is
// optional in tests.
type Collector struct {
	scansIngested      prometheus.Counter
	evaluationsTotal   prometheus.Counter
	evaluationDuration prometheus.Histogram
	alertsCreated      *prometheus.CounterVec
	activeAlerts       prometheus.Gauge
	sweepDuration      prometheus.Histogram
	websocketClients   prometheus.Gauge
}

// NewCollector registers the scan engine metrics with the default
// Prometheus registry.
func NewCollector() *Collector {
	return &Collector{
		scansIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scan_engine_scans_ingested_total",
			Help: "Total number of scan events ingested",
		}),
		evaluationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scan_engine_evaluations_total",
			Help: "Total number of rule evaluations run",
		}),
		evaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scan_engine_evaluation_duration_seconds",
			Help:    "Duration of a single consignment rule evaluation",
			Buckets: prometheus.ExponentialBuckets(0.00001, 5, 8),
		}),
		alertsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_engine_alerts_created_total",
			Help: "Alerts created, by rule and severity",
		}, []string{"rule", "severity"}),
		activeAlerts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scan_engine_active_alerts",
			Help: "Number of alerts currently in a non-terminal state",
		}),
		sweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scan_engine_sweep_duration_seconds",
			Help:    "Duration of the periodic re-evaluation sweep",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		websocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scan_engine_websocket_clients",
			Help: "Connected realtime dashboard clients",
		}),
	}
}

func (c *Collector) ScanIngested() {
	if c == nil {
		return
	}
	c.scansIngested.Inc()
}

func (c *Collector) EvaluationObserved(d time.Duration) {
	if c == nil {
		return
	}
	c.evaluationsTotal.Inc()
	c.evaluationDuration.Observe(d.Seconds())
}

func (c *Collector) AlertCreated(rule, severity string) {
	if c == nil {
		return
	}
	c.alertsCreated.WithLabelValues(rule, severity).Inc()
}

func (c *Collector) SetActiveAlerts(n int) {
	if c == nil {
		return
	}
	c.activeAlerts.Set(float64(n))
}

func (c *Collector) SweepObserved(d time.Duration) {
	if c == nil {
		return
	}
	c.sweepDuration.Observe(d.Seconds())
}

func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.websocketClients.Inc()
}

func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.websocketClients.Dec()
}
