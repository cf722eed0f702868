package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/engine"
	"github.com/parcelops/scan-engine/internal/predictor"
	"github.com/parcelops/scan-engine/internal/store"
	"github.com/parcelops/scan-engine/internal/taxonomy"
)

func newTestSweeper(t *testing.T) (*Sweeper, *consignment.Store, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consignments := consignment.NewStore(logger)
	alerts := store.NewStore(logger)
	pred := predictor.New(config.PredictorConfig{}, nil)
	eng := engine.New(config.AlertingConfig{}, logger, alerts, pred, nil, nil)

	cfg := config.SweepConfig{Enabled: true, Schedule: "*/30 * * * * *", MaxConcurrent: 4}
	return New(cfg, logger, consignments, alerts, eng, nil), consignments, alerts
}

func TestSweepEmptyStore(t *testing.T) {
	s, _, _ := newTestSweeper(t)
	require.NoError(t, s.Sweep(context.Background()))
	assert.EqualValues(t, 1, s.Stats()["run_count"])
}

func TestSweepCreatesTimeBasedAlerts(t *testing.T) {
	s, consignments, alerts := newTestSweeper(t)

	// A shipment with no movement for 9 hours. Nothing new arrives on
	// the ingestion path, so only the sweep can surface it.
	stalled := &consignment.Consignment{
		AWB:               "AWB001",
		ServiceType:       "Ground",
		CreatedAt:         time.Now().Add(-12 * time.Hour),
		EstimatedDelivery: time.Now().Add(24 * time.Hour),
		Scans: []consignment.Scan{
			{ID: "s1", Type: taxonomy.TypePickup, Timestamp: time.Now().Add(-9 * time.Hour)},
		},
	}
	consignments.Upsert(stalled)

	healthy := &consignment.Consignment{
		AWB:               "AWB002",
		ServiceType:       "Ground",
		CreatedAt:         time.Now().Add(-1 * time.Hour),
		EstimatedDelivery: time.Now().Add(24 * time.Hour),
		Scans: []consignment.Scan{
			{ID: "s2", Type: taxonomy.TypePickup, Timestamp: time.Now().Add(-30 * time.Minute)},
		},
	}
	consignments.Upsert(healthy)

	require.NoError(t, s.Sweep(context.Background()))

	got := alerts.ByAWB("AWB001")
	require.Len(t, got, 2, "no movement and missed scan both fire")
	assert.Empty(t, alerts.ByAWB("AWB002"))
}

func TestSweepSkipsDelivered(t *testing.T) {
	s, consignments, alerts := newTestSweeper(t)

	done := &consignment.Consignment{
		AWB:               "AWB001",
		ServiceType:       "Ground",
		Status:            consignment.StatusDelivered,
		CreatedAt:         time.Now().Add(-48 * time.Hour),
		EstimatedDelivery: time.Now().Add(-24 * time.Hour),
		Scans: []consignment.Scan{
			{ID: "s1", Type: taxonomy.TypeDelivered, Timestamp: time.Now().Add(-30 * time.Hour)},
		},
	}
	consignments.Upsert(done)

	require.NoError(t, s.Sweep(context.Background()))
	assert.Empty(t, alerts.All())
}

func TestSweepHandlesManyConsignments(t *testing.T) {
	s, consignments, alerts := newTestSweeper(t)

	for i := 0; i < 40; i++ {
		consignments.Upsert(&consignment.Consignment{
			AWB:               fmt.Sprintf("AWB%03d", i),
			ServiceType:       "Express",
			CreatedAt:         time.Now().Add(-12 * time.Hour),
			EstimatedDelivery: time.Now().Add(-1 * time.Hour),
			Scans: []consignment.Scan{
				{Type: taxonomy.TypePickup, Timestamp: time.Now().Add(-30 * time.Minute)},
			},
		})
	}

	require.NoError(t, s.Sweep(context.Background()))

	// Every past-due consignment got its delay alert despite the
	// bounded worker pool.
	assert.Len(t, alerts.All(), 40)
}

func TestSweepCancelledContext(t *testing.T) {
	s, consignments, _ := newTestSweeper(t)
	consignments.Upsert(&consignment.Consignment{
		AWB:         "AWB001",
		ServiceType: "Ground",
		CreatedAt:   time.Now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Sweep(ctx))
}

func TestStartDisabled(t *testing.T) {
	s, _, _ := newTestSweeper(t)
	s.cfg.Enabled = false
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, _, _ := newTestSweeper(t)
	s.cfg.Schedule = "not a schedule"
	assert.Error(t, s.Start(context.Background()))
}
