package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parcelops/scan-engine/internal/config"
	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/engine"
	"github.com/parcelops/scan-engine/internal/handlers"
	"github.com/parcelops/scan-engine/internal/kafka"
	"github.com/parcelops/scan-engine/internal/metrics"
	"github.com/parcelops/scan-engine/internal/predictor"
	"github.com/parcelops/scan-engine/internal/realtime"
	"github.com/parcelops/scan-engine/internal/scheduler"
	"github.com/parcelops/scan-engine/internal/store"
	"github.com/parcelops/scan-engine/internal/taxonomy"
)

const (
	serviceName = "scan-engine"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("Starting Scan Validation & Alerting Engine",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Core components
	taxonomyTable := loadTaxonomy(logger)
	collector := metrics.NewCollector()
	consignments := consignment.NewStore(logger)
	alerts := store.NewStore(logger)
	pred := predictor.New(cfg.Predictor, nil)
	ruleEngine := engine.New(cfg.Alerting, logger, alerts, pred, collector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Realtime alert feed
	hub := realtime.NewHub(logger, collector)
	ruleEngine.AddSink(hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// Kafka alert publishing and scan ingestion
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		ruleEngine.AddSink(producer)

		consumer := kafka.NewConsumer(cfg.Kafka, logger, consignments, ruleEngine, collector)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("Kafka consumer failed", "error", err)
				cancel()
			}
		}()
	}

	// Periodic sweep for time-based rule transitions
	sweeper := scheduler.New(cfg.Sweep, logger, consignments, alerts, ruleEngine, collector)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Failed to start sweeper", "error", err)
		os.Exit(1)
	}

	// HTTP surface
	httpHandlers := handlers.NewHTTPHandler(
		logger,
		alerts,
		consignments,
		ruleEngine,
		pred,
		taxonomyTable,
		collector,
	)

	router := mux.NewRouter()
	httpHandlers.RegisterRoutes(router)
	router.HandleFunc("/ws/alerts", hub.ServeWS)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Shutting down services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	sweeper.Stop()
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", "error", err)
		}
	}

	wg.Wait()
	logger.Info("Service shutdown complete")
}

// loadTaxonomy returns the shipped reference table. The engine must
// start even with empty reference data, so any future external loader
// failure falls back to Default rather than aborting.
func loadTaxonomy(logger *slog.Logger) *taxonomy.Table {
	table := taxonomy.Default()
	logger.Info("Scan taxonomy loaded",
		"types", len(table.AllTypes()),
		"categories", len(table.AllCategories()))
	return table
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Debug,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler).With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
