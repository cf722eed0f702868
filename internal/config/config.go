package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the scan engine service
type Config struct {
	Environment string          `mapstructure:"environment"`
	Debug       bool            `mapstructure:"debug"`
	Server      ServerConfig    `mapstructure:"server"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Alerting    AlertingConfig  `mapstructure:"alerting"`
	Predictor   PredictorConfig `mapstructure:"predictor"`
	Sweep       SweepConfig     `mapstructure:"sweep"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort     int           `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig contains Kafka configuration for scan ingestion
type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	ScanEventsTopic string        `mapstructure:"scan_events_topic"`
	AlertsTopic     string        `mapstructure:"alerts_topic"`
	WorkerCount     int           `mapstructure:"worker_count"`
	MinBytes        int           `mapstructure:"min_bytes"`
	MaxBytes        int           `mapstructure:"max_bytes"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

// AlertingConfig contains the fixed rule thresholds and dedup behaviour
type AlertingConfig struct {
	NoMovementThreshold  time.Duration `mapstructure:"no_movement_threshold"`
	MissedScanThreshold  time.Duration `mapstructure:"missed_scan_threshold"`
	DelayWarningWindow   time.Duration `mapstructure:"delay_warning_window"`
	DeduplicationEnabled bool          `mapstructure:"deduplication_enabled"`
}

// PredictorConfig contains delay predictor tuning
type PredictorConfig struct {
	InitialScans               int           `mapstructure:"initial_scans"`
	StaleScanThreshold         time.Duration `mapstructure:"stale_scan_threshold"`
	ExpressIntervalHours       float64       `mapstructure:"express_interval_hours"`
	GroundIntervalHours        float64       `mapstructure:"ground_interval_hours"`
	OvernightIntervalHours     float64       `mapstructure:"overnight_interval_hours"`
	InternationalIntervalHours float64       `mapstructure:"international_interval_hours"`
	DefaultIntervalHours       float64       `mapstructure:"default_interval_hours"`
}

// SweepConfig contains periodic sweep configuration
type SweepConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Schedule      string `mapstructure:"schedule"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/scan-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SCAN_ENGINE")

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8086)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "scan-engine")
	viper.SetDefault("kafka.scan_events_topic", "scan-events")
	viper.SetDefault("kafka.alerts_topic", "shipment-alerts")
	viper.SetDefault("kafka.worker_count", 4)
	viper.SetDefault("kafka.min_bytes", 1)
	viper.SetDefault("kafka.max_bytes", 10e6)
	viper.SetDefault("kafka.commit_interval", "1s")

	// Alerting rule thresholds
	viper.SetDefault("alerting.no_movement_threshold", "8h")
	viper.SetDefault("alerting.missed_scan_threshold", "2h")
	viper.SetDefault("alerting.delay_warning_window", "4h")
	viper.SetDefault("alerting.deduplication_enabled", false)

	// Predictor
	viper.SetDefault("predictor.initial_scans", 1)
	viper.SetDefault("predictor.stale_scan_threshold", "4h")
	viper.SetDefault("predictor.express_interval_hours", 4.0)
	viper.SetDefault("predictor.ground_interval_hours", 6.0)
	viper.SetDefault("predictor.overnight_interval_hours", 3.0)
	viper.SetDefault("predictor.international_interval_hours", 5.0)
	viper.SetDefault("predictor.default_interval_hours", 4.0)

	// Sweep
	viper.SetDefault("sweep.enabled", true)
	viper.SetDefault("sweep.schedule", "*/30 * * * * *")
	viper.SetDefault("sweep.max_concurrent", 8)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
