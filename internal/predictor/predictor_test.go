package predictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestPredictor() *Predictor {
	return New(config.PredictorConfig{
		InitialScans:               1,
		StaleScanThreshold:         4 * time.Hour,
		ExpressIntervalHours:       4,
		GroundIntervalHours:        6,
		OvernightIntervalHours:     3,
		InternationalIntervalHours: 5,
		DefaultIntervalHours:       4,
	}, fixedClock)
}

func healthyConsignment() *consignment.Consignment {
	return &consignment.Consignment{
		AWB:               "AWB100200300",
		ServiceType:       "express",
		CreatedAt:         testNow.Add(-1 * time.Hour),
		EstimatedDelivery: testNow.Add(24 * time.Hour),
		Status:            consignment.StatusInTransit,
		Scans: []consignment.Scan{
			{Type: "pickup", Timestamp: testNow.Add(-30 * time.Minute), Location: "DEL Hub"},
		},
	}
}

func TestPredictHealthyShipment(t *testing.T) {
	pred := newTestPredictor().Predict(healthyConsignment())

	assert.Equal(t, 0, pred.DelayProbability)
	assert.Equal(t, RiskLow, pred.RiskLevel)
	assert.False(t, pred.WillBeDelayed)
	assert.Empty(t, pred.Reasons)
	assert.Equal(t, 1, pred.Metrics.ScansRecorded)
}

func TestPredictPastDueWithNoScans(t *testing.T) {
	// Created now, estimate one hour in the past, zero scans: the
	// past-due factor (+50) and no-scans factor (+25) must both fire,
	// and 75 crosses the >70 boundary into CRITICAL.
	c := &consignment.Consignment{
		AWB:               "AWB555666777",
		ServiceType:       "express",
		CreatedAt:         testNow,
		EstimatedDelivery: testNow.Add(-1 * time.Hour),
	}

	pred := newTestPredictor().Predict(c)

	assert.Equal(t, 75, pred.DelayProbability)
	assert.Equal(t, RiskCritical, pred.RiskLevel)
	assert.True(t, pred.WillBeDelayed)
	assert.Contains(t, pred.Reasons, "already past estimated delivery")
	assert.Contains(t, pred.Reasons, "no scans recorded yet")
}

func TestPredictClampsToHundred(t *testing.T) {
	// Stack every factor: past due (+50), stale scan (+20), exception
	// (+40), heavy scan lag (+10 each). Must clamp to exactly 100.
	c := &consignment.Consignment{
		AWB:               "AWB999888777",
		ServiceType:       "ground",
		CreatedAt:         testNow.Add(-40 * time.Hour),
		EstimatedDelivery: testNow.Add(-10 * time.Hour),
		Scans: []consignment.Scan{
			{Type: "pickup", Timestamp: testNow.Add(-39 * time.Hour)},
			{Type: "delivery-exception", Timestamp: testNow.Add(-30 * time.Hour)},
		},
	}

	pred := newTestPredictor().Predict(c)

	assert.Equal(t, 100, pred.DelayProbability)
	assert.Equal(t, RiskCritical, pred.RiskLevel)
	assert.True(t, pred.WillBeDelayed)
	assert.Contains(t, pred.Reasons, "delivery exception or return initiated")
}

func TestPredictScoreAlwaysInRange(t *testing.T) {
	p := newTestPredictor()
	cases := []*consignment.Consignment{
		{},
		{AWB: "A"},
		{AWB: "B", EstimatedDelivery: testNow.Add(90 * time.Minute)},
		{AWB: "C", CreatedAt: testNow.Add(48 * time.Hour)}, // created in the future
		{AWB: "D", Scans: []consignment.Scan{{Type: "pickup"}}},
		healthyConsignment(),
	}

	for _, c := range cases {
		pred := p.Predict(c)
		assert.GreaterOrEqual(t, pred.DelayProbability, 0)
		assert.LessOrEqual(t, pred.DelayProbability, 100)
		assert.NotEmpty(t, pred.RiskLevel)
	}
}

func TestPredictMissingTimestampsDegradeSilently(t *testing.T) {
	// Zero-value timestamps silence the affected factors rather than
	// panicking or skewing the score.
	c := &consignment.Consignment{
		AWB:         "AWB000",
		ServiceType: "express",
		Scans: []consignment.Scan{
			{Type: "pickup"}, // no timestamp
		},
	}

	pred := newTestPredictor().Predict(c)

	assert.Equal(t, 0, pred.DelayProbability)
	assert.Equal(t, RiskLow, pred.RiskLevel)
	assert.Empty(t, pred.Reasons)
}

func TestPredictStaleScan(t *testing.T) {
	c := healthyConsignment()
	c.Scans[0].Timestamp = testNow.Add(-5 * time.Hour)

	pred := newTestPredictor().Predict(c)

	assert.Equal(t, 20, pred.DelayProbability)
	require.Len(t, pred.Reasons, 1)
	assert.Equal(t, "no scan in last 5.0 hours", pred.Reasons[0])
}

func TestPredictScanCountLag(t *testing.T) {
	// Express cadence: 1 + floor(13/4) = 4 expected scans. One actual
	// scan is 3 behind, which clears the grace of one scan and adds 30.
	c := &consignment.Consignment{
		AWB:               "AWB111",
		ServiceType:       "express",
		CreatedAt:         testNow.Add(-13 * time.Hour),
		EstimatedDelivery: testNow.Add(48 * time.Hour),
		Scans: []consignment.Scan{
			{Type: "pickup", Timestamp: testNow.Add(-1 * time.Hour)},
		},
	}

	pred := newTestPredictor().Predict(c)

	assert.Equal(t, 30, pred.DelayProbability)
	assert.Equal(t, 4, pred.Metrics.ScansExpected)
	require.Len(t, pred.Reasons, 1)
	assert.Equal(t, "behind expected scan progression by 3 scan(s)", pred.Reasons[0])
}

func TestPredictTimeBudgetOverrun(t *testing.T) {
	// 90% of the delivery window consumed with fewer scans than
	// expected: the overrun factor adds 25 on top of the lag factor.
	c := &consignment.Consignment{
		AWB:               "AWB222",
		ServiceType:       "overnight",
		CreatedAt:         testNow.Add(-9 * time.Hour),
		EstimatedDelivery: testNow.Add(1 * time.Hour),
		Scans: []consignment.Scan{
			{Type: "pickup", Timestamp: testNow.Add(-30 * time.Minute)},
		},
	}

	pred := newTestPredictor().Predict(c)

	// only 1.0 hours remaining (+30), behind by 3 scans (+30), overrun (+25)
	assert.Equal(t, 85, pred.DelayProbability)
	assert.Contains(t, pred.Reasons, "high time consumption with incomplete scan progression")
	assert.Contains(t, pred.Reasons, "only 1.0 hours remaining")
	assert.InDelta(t, 90, pred.Metrics.ProgressPercentage, 0.01)
}

func TestPredictIsIdempotent(t *testing.T) {
	p := newTestPredictor()
	c := healthyConsignment()
	c.Scans = append(c.Scans, consignment.Scan{Type: "delivery-exception", Timestamp: testNow.Add(-10 * time.Minute)})
	scansBefore := len(c.Scans)

	first := p.Predict(c)
	second := p.Predict(c)

	assert.Equal(t, first, second)
	assert.Equal(t, scansBefore, len(c.Scans), "input must not be mutated")
}

func TestRiskTiers(t *testing.T) {
	cases := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{30, RiskLow},
		{31, RiskMedium},
		{50, RiskMedium},
		{51, RiskHigh},
		{70, RiskHigh},
		{71, RiskCritical},
		{100, RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, riskLevel(tc.score), "score %d", tc.score)
	}
}

func TestEstimateDelivery(t *testing.T) {
	p := newTestPredictor()

	t.Run("Delayed Shipment Pushes Estimate Out", func(t *testing.T) {
		c := &consignment.Consignment{
			AWB:               "AWB333",
			ServiceType:       "express",
			CreatedAt:         testNow,
			EstimatedDelivery: testNow.Add(-1 * time.Hour),
		}

		est := p.EstimateDelivery(c)

		// Score 75: ceil(75/10) = 8 extra hours, confidence 25.
		assert.True(t, est.Delayed)
		assert.Equal(t, 25, est.Confidence)
		assert.Equal(t, c.EstimatedDelivery.Add(8*time.Hour), est.Revised)
		assert.Equal(t, c.EstimatedDelivery, est.Original)
	})

	t.Run("Healthy Shipment Keeps Original Estimate", func(t *testing.T) {
		c := healthyConsignment()
		est := p.EstimateDelivery(c)

		assert.False(t, est.Delayed)
		assert.Equal(t, 100, est.Confidence)
		assert.Equal(t, c.EstimatedDelivery, est.Revised)
	})
}
