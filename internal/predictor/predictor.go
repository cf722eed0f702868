// Package predictor computes an explainable 0-100 delay-risk score for
// a consignment from time and scan-progression signals. The model is a
// deterministic additive heuristic, not a trained model: every factor
// contributes a fixed amount with a human-readable reason.
package predictor

import (
	"fmt"
	"math"
	"time"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/sequence"
	"github.com/parcelops/scan-engine/internal/taxonomy"
)

// RiskLevel is the tier derived from the clamped delay probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Metrics is the snapshot of the inputs behind a prediction.
type Metrics struct {
	ElapsedHours       float64 `json:"elapsed_hours"`
	ExpectedHours      float64 `json:"expected_hours"`
	RemainingHours     float64 `json:"remaining_hours"`
	ScansRecorded      int     `json:"scans_recorded"`
	ScansExpected      int     `json:"scans_expected"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// Prediction is the full result of a delay computation. Pure value,
// never persisted.
type Prediction struct {
	DelayProbability int       `json:"delay_probability"`
	RiskLevel        RiskLevel `json:"risk_level"`
	WillBeDelayed    bool      `json:"will_be_delayed"`
	Reasons          []string  `json:"reasons"`
	Metrics          Metrics   `json:"metrics"`
}

// Estimate is a revised delivery estimate derived from the prediction.
type Estimate struct {
	Original   time.Time `json:"original"`
	Revised    time.Time `json:"revised"`
	Confidence int       `json:"confidence"`
	Delayed    bool      `json:"delayed"`
}

// Predictor holds the per-family scan-interval tuning. The clock is
// injectable so scoring is reproducible under test.
type Predictor struct {
	cfg config.PredictorConfig
	now func() time.Time
}

// New creates a predictor from config. A nil clock defaults to time.Now.
func New(cfg config.PredictorConfig, now func() time.Time) *Predictor {
	if now == nil {
		now = time.Now
	}
	if cfg.InitialScans <= 0 {
		cfg.InitialScans = 1
	}
	if cfg.DefaultIntervalHours <= 0 {
		cfg.DefaultIntervalHours = 4
	}
	if cfg.StaleScanThreshold <= 0 {
		cfg.StaleScanThreshold = 4 * time.Hour
	}
	return &Predictor{cfg: cfg, now: now}
}

// intervalHours returns the expected hours between scans for the
// consignment's service family, falling back to the default when the
// family has no configured interval.
func (p *Predictor) intervalHours(serviceType string) float64 {
	var h float64
	switch sequence.ResolveFamily(serviceType) {
	case sequence.FamilyExpress:
		h = p.cfg.ExpressIntervalHours
	case sequence.FamilyGround:
		h = p.cfg.GroundIntervalHours
	case sequence.FamilyOvernight:
		h = p.cfg.OvernightIntervalHours
	case sequence.FamilyInternational:
		h = p.cfg.InternationalIntervalHours
	}
	if h <= 0 {
		h = p.cfg.DefaultIntervalHours
	}
	return h
}

// Predict scores the consignment. Missing or zero timestamps silence
// the affected factor rather than aborting; the result is always
// complete and the input is never mutated.
func (p *Predictor) Predict(c *consignment.Consignment) Prediction {
	now := p.now()
	score := 0
	reasons := make([]string, 0, 4)

	var m Metrics
	m.ScansRecorded = len(c.Scans)

	// Factor 1: time remaining until the committed estimate.
	if !c.EstimatedDelivery.IsZero() {
		m.RemainingHours = c.EstimatedDelivery.Sub(now).Hours()
		if m.RemainingHours < 0 {
			score += 50
			reasons = append(reasons, "already past estimated delivery")
		} else if m.RemainingHours < 2 {
			score += 30
			reasons = append(reasons, fmt.Sprintf("only %.1f hours remaining", m.RemainingHours))
		}
	}

	// Factor 2: scan staleness.
	last := c.LastScan()
	if last == nil {
		score += 25
		reasons = append(reasons, "no scans recorded yet")
	} else if !last.Timestamp.IsZero() {
		sinceLast := now.Sub(last.Timestamp)
		if sinceLast > p.cfg.StaleScanThreshold {
			score += 20
			reasons = append(reasons, fmt.Sprintf("no scan in last %.1f hours", sinceLast.Hours()))
		}
	}

	// Factor 3: exception presence anywhere in the history.
	if c.HasScanType(taxonomy.TypeDeliveryException) || c.HasScanType(taxonomy.TypeReturnToOrigin) {
		score += 40
		reasons = append(reasons, "delivery exception or return initiated")
	}

	// Factor 4: scan-count lag against the expected cadence.
	if !c.CreatedAt.IsZero() {
		m.ElapsedHours = now.Sub(c.CreatedAt).Hours()
		if m.ElapsedHours < 0 {
			m.ElapsedHours = 0
		}
	}
	interval := p.intervalHours(c.ServiceType)
	m.ScansExpected = p.cfg.InitialScans + int(math.Floor(m.ElapsedHours/interval))
	if m.ScansRecorded < m.ScansExpected-1 {
		lag := m.ScansExpected - m.ScansRecorded
		score += 10 * lag
		reasons = append(reasons, fmt.Sprintf("behind expected scan progression by %d scan(s)", lag))
	}

	// Factor 5: time-budget overrun with incomplete progression.
	if !c.EstimatedDelivery.IsZero() && !c.CreatedAt.IsZero() {
		m.ExpectedHours = c.EstimatedDelivery.Sub(c.CreatedAt).Hours()
		if m.ExpectedHours > 0 {
			m.ProgressPercentage = m.ElapsedHours / m.ExpectedHours * 100
			if m.ProgressPercentage > 85 && m.ScansRecorded < m.ScansExpected {
				score += 25
				reasons = append(reasons, "high time consumption with incomplete scan progression")
			}
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return Prediction{
		DelayProbability: score,
		RiskLevel:        riskLevel(score),
		WillBeDelayed:    score > 50,
		Reasons:          reasons,
		Metrics:          m,
	}
}

// EstimateDelivery derives a revised delivery estimate: one extra hour
// for every 10 points of risk when a delay is predicted, otherwise the
// original estimate stands.
func (p *Predictor) EstimateDelivery(c *consignment.Consignment) Estimate {
	pred := p.Predict(c)
	est := Estimate{
		Original:   c.EstimatedDelivery,
		Revised:    c.EstimatedDelivery,
		Confidence: 100 - pred.DelayProbability,
		Delayed:    pred.WillBeDelayed,
	}
	if pred.WillBeDelayed {
		extra := int(math.Ceil(float64(pred.DelayProbability) / 10))
		est.Revised = c.EstimatedDelivery.Add(time.Duration(extra) * time.Hour)
	}
	return est
}

func riskLevel(score int) RiskLevel {
	switch {
	case score > 70:
		return RiskCritical
	case score > 50:
		return RiskHigh
	case score > 30:
		return RiskMedium
	default:
		return RiskLow
	}
}
