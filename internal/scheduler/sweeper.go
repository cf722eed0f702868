// Package scheduler runs the periodic re-evaluation sweep that catches
// time-based rule transitions no new scan would trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/engine"
	"github.com/parcelops/scan-engine/internal/metrics"
	"github.com/parcelops/scan-engine/internal/store"
)

// Sweeper re-evaluates the working set of consignments on a cron
// schedule. Evaluation for different AWBs runs in parallel under a
// bounded pool; the per-AWB critical section lives in the consignment
// store.
type Sweeper struct {
	cfg          config.SweepConfig
	logger       *slog.Logger
	cron         *cron.Cron
	consignments *consignment.Store
	alerts       *store.Store
	engine       *engine.Engine
	metrics      *metrics.Collector

	runCount   atomic.Int64
	errorCount atomic.Int64
}

// New creates a sweeper. The schedule uses cron syntax with seconds
// precision, e.g. "*/30 * * * * *".
func New(
	cfg config.SweepConfig,
	logger *slog.Logger,
	consignments *consignment.Store,
	alerts *store.Store,
	eng *engine.Engine,
	collector *metrics.Collector,
) *Sweeper {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Sweeper{
		cfg:          cfg,
		logger:       logger,
		cron:         cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		consignments: consignments,
		alerts:       alerts,
		engine:       eng,
		metrics:      collector,
	}
}

// Start schedules the sweep and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("Periodic sweep disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.errorCount.Add(1)
			s.logger.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	// Operational snapshot, logged on a fixed cadence.
	if _, err := s.cron.AddFunc("0 */5 * * * *", s.snapshot); err != nil {
		return fmt.Errorf("failed to schedule snapshot: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Periodic sweep started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Periodic sweep stopped")
}

// Sweep re-evaluates every in-flight consignment once. Failures on one
// AWB do not stop the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	started := time.Now()
	s.runCount.Add(1)

	awbs := s.consignments.Working()
	if len(awbs) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	for _, awb := range awbs {
		awb := awb
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			err := s.consignments.Update(awb, func(c *consignment.Consignment) error {
				s.engine.Evaluate(c)
				return nil
			})
			if err != nil {
				// The consignment can disappear between listing and
				// evaluation only through external archival; skip it.
				s.logger.Warn("Sweep skipped consignment", "awb", awb, "error", err)
			}
			return nil
		})
	}

	err := g.Wait()

	s.metrics.SweepObserved(time.Since(started))
	alertStats := s.alerts.Stats()
	s.metrics.SetActiveAlerts(alertStats.Active + alertStats.Acknowledged)

	s.logger.Debug("Sweep completed",
		"consignments", len(awbs),
		"duration", time.Since(started))
	return err
}

// snapshot logs store-wide counts and refreshes the active-alerts
// gauge between sweeps.
func (s *Sweeper) snapshot() {
	alertStats := s.alerts.Stats()
	s.metrics.SetActiveAlerts(alertStats.Active + alertStats.Acknowledged)
	s.logger.Info("Engine snapshot",
		"consignments", s.consignments.Len(),
		"alerts_total", alertStats.Total,
		"alerts_active", alertStats.Active,
		"alerts_acknowledged", alertStats.Acknowledged,
		"sweep_runs", s.runCount.Load())
}

// Stats returns run and error counters for the status endpoint.
func (s *Sweeper) Stats() map[string]any {
	return map[string]any{
		"enabled":     s.cfg.Enabled,
		"schedule":    s.cfg.Schedule,
		"run_count":   s.runCount.Load(),
		"error_count": s.errorCount.Load(),
	}
}
