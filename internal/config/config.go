// Package config defines the top-level configuration for the signal engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYSIGNAL_* environment
// variables. Components receive immutable copies of their sections at wiring
// time; nothing reads configuration ambiently after startup.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Detector   DetectorConfig   `toml:"detector"`
	Correlator CorrelatorConfig `toml:"correlator"`
	Resolver   ResolverConfig   `toml:"resolver"`
	Engine     EngineConfig     `toml:"engine"`
	Retention  RetentionConfig  `toml:"retention"`
	Report     ReportConfig     `toml:"report"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: with
// Enabled false the engine runs without the price cache and signal bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the retention
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DetectorConfig holds the spike, contrarian, and momentum thresholds.
type DetectorConfig struct {
	SpikeThresholdRatio     float64  `toml:"spike_threshold_ratio"`
	MinOrderbookDepth       float64  `toml:"min_orderbook_depth"`
	BaselineHours           int      `toml:"baseline_hours"`
	MinSnapshotsForBaseline int      `toml:"min_snapshots_for_baseline"`
	DuplicateAlertWindow    duration `toml:"duplicate_alert_window"`
	MinSignalQuality        int      `toml:"min_signal_quality"`

	ContrarianInfluxThreshold   float64 `toml:"contrarian_influx_threshold"`
	ContrarianMinPriorRatio     float64 `toml:"contrarian_min_prior_ratio"`
	ContrarianBaselineSnapshots int     `toml:"contrarian_baseline_snapshots"`
	ContrarianMinPriceShift     float64 `toml:"contrarian_min_price_shift"`

	MomentumThreshold float64 `toml:"momentum_threshold"`
	MomentumLookback  int     `toml:"momentum_lookback"`
	MinBaselinePrice  float64 `toml:"min_baseline_price"`
	MaxBaselinePrice  float64 `toml:"max_baseline_price"`

	Parallelism int `toml:"parallelism"`
}

// CorrelatorConfig holds the correlation-breakdown thresholds.
type CorrelatorConfig struct {
	DivergenceThreshold  float64  `toml:"divergence_threshold"`
	WindowHours          int      `toml:"window_hours"`
	MinOverlap           int      `toml:"min_overlap"`
	MinMove              float64  `toml:"min_move"`
	DuplicateAlertWindow duration `toml:"duplicate_alert_window"`
	SeverityCap          float64  `toml:"severity_cap"`
}

// ResolverConfig holds the resolution price boundaries.
type ResolverConfig struct {
	YesFloor  float64 `toml:"yes_floor"`
	NoCeiling float64 `toml:"no_ceiling"`
}

// EngineConfig holds cycle cadence and signal fan-out settings.
type EngineConfig struct {
	DetectionInterval  duration `toml:"detection_interval"`
	ResolutionInterval duration `toml:"resolution_interval"`
	SignalChannel      string   `toml:"signal_channel"`
	SignalStream       string   `toml:"signal_stream"`
}

// RetentionConfig holds cold-storage archival settings.
type RetentionConfig struct {
	Enabled               bool     `toml:"enabled"`
	SnapshotRetentionDays int      `toml:"snapshot_retention_days"`
	AlertRetentionDays    int      `toml:"alert_retention_days"`
	ArchiveInterval       duration `toml:"archive_interval"`
	BatchSize             int      `toml:"batch_size"`
	Prefix                string   `toml:"prefix"`
}

// ReportConfig bounds the pattern-accuracy analysis run by report mode.
type ReportConfig struct {
	AnalysisDays      int      `toml:"analysis_days"`
	MinPatternSamples int      `toml:"min_pattern_samples"`
	CombinedWindow    duration `toml:"combined_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values like "5m" parse directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the engine ships with.
// These match config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polysignal",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polysignal-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Detector: DetectorConfig{
			SpikeThresholdRatio:     3.0,
			MinOrderbookDepth:       500,
			BaselineHours:           24,
			MinSnapshotsForBaseline: 12,
			DuplicateAlertWindow:    duration{6 * time.Hour},
			MinSignalQuality:        50,

			ContrarianInfluxThreshold:   2.5,
			ContrarianMinPriorRatio:     1.5,
			ContrarianBaselineSnapshots: 6,
			ContrarianMinPriceShift:     0.03,

			MomentumThreshold: 0.10,
			MomentumLookback:  6,
			MinBaselinePrice:  0.05,
			MaxBaselinePrice:  0.95,

			Parallelism: 8,
		},
		Correlator: CorrelatorConfig{
			DivergenceThreshold:  0.10,
			WindowHours:          12,
			MinOverlap:           6,
			MinMove:              0.05,
			DuplicateAlertWindow: duration{12 * time.Hour},
			SeverityCap:          10,
		},
		Resolver: ResolverConfig{
			YesFloor:  0.95,
			NoCeiling: 0.05,
		},
		Engine: EngineConfig{
			DetectionInterval:  duration{5 * time.Minute},
			ResolutionInterval: duration{time.Hour},
			SignalChannel:      "signals:live",
			SignalStream:       "signals:log",
		},
		Retention: RetentionConfig{
			Enabled:               false,
			SnapshotRetentionDays: 30,
			AlertRetentionDays:    90,
			ArchiveInterval:       duration{24 * time.Hour},
			BatchSize:             5000,
			Prefix:                "archive",
		},
		Report: ReportConfig{
			AnalysisDays:      30,
			MinPatternSamples: 5,
			CombinedWindow:    duration{6 * time.Hour},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"monitor": true, // detection + correlation cycles only
	"resolve": true, // resolution cycle only
	"archive": true, // retention archiver only
	"report":  true, // one-shot pattern accuracy report
	"status":  true, // one-shot operational snapshot
	"watch":   true, // tail the live signal channel
	"full":    true, // everything
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, resolve, archive, report, status, watch, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port %d out of range", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database name must not be empty")
		}
	}
	if c.Database.PoolMaxConns < c.Database.PoolMinConns {
		errs = append(errs, "database: pool_max_conns must be >= pool_min_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when redis is enabled")
	}

	d := c.Detector
	if d.SpikeThresholdRatio <= 1 {
		errs = append(errs, "detector: spike_threshold_ratio must exceed 1")
	}
	if d.MinOrderbookDepth < 0 {
		errs = append(errs, "detector: min_orderbook_depth must not be negative")
	}
	if d.BaselineHours <= 0 {
		errs = append(errs, "detector: baseline_hours must be positive")
	}
	if d.MinSnapshotsForBaseline < 2 {
		errs = append(errs, "detector: min_snapshots_for_baseline must be at least 2")
	}
	if d.DuplicateAlertWindow.Duration <= 0 {
		errs = append(errs, "detector: duplicate_alert_window must be positive")
	}
	if d.MinSignalQuality < 0 || d.MinSignalQuality > 100 {
		errs = append(errs, fmt.Sprintf("detector: min_signal_quality %d outside [0,100]", d.MinSignalQuality))
	}
	if d.ContrarianBaselineSnapshots < 2 {
		errs = append(errs, "detector: contrarian_baseline_snapshots must be at least 2")
	}
	if d.MinBaselinePrice < 0 || d.MaxBaselinePrice > 1 || d.MinBaselinePrice >= d.MaxBaselinePrice {
		errs = append(errs, "detector: baseline price bounds must satisfy 0 <= min < max <= 1")
	}

	co := c.Correlator
	if co.DivergenceThreshold <= 0 {
		errs = append(errs, "correlator: divergence_threshold must be positive")
	}
	if co.WindowHours <= 0 {
		errs = append(errs, "correlator: window_hours must be positive")
	}
	if co.MinOverlap < 3 {
		errs = append(errs, "correlator: min_overlap must be at least 3")
	}
	if co.SeverityCap <= 0 {
		errs = append(errs, "correlator: severity_cap must be positive")
	}

	r := c.Resolver
	if r.NoCeiling <= 0 || r.YesFloor >= 1 || r.NoCeiling >= r.YesFloor {
		errs = append(errs, "resolver: boundaries must satisfy 0 < no_ceiling < yes_floor < 1")
	}

	if c.Engine.DetectionInterval.Duration <= 0 {
		errs = append(errs, "engine: detection_interval must be positive")
	}
	if c.Engine.ResolutionInterval.Duration <= 0 {
		errs = append(errs, "engine: resolution_interval must be positive")
	}

	if c.Retention.Enabled {
		if c.Retention.SnapshotRetentionDays <= 0 {
			errs = append(errs, "retention: snapshot_retention_days must be positive")
		}
		if c.Retention.AlertRetentionDays <= 0 {
			errs = append(errs, "retention: alert_retention_days must be positive")
		}
		if c.Retention.BatchSize <= 0 {
			errs = append(errs, "retention: batch_size must be positive")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "retention: s3 bucket must be configured when archival is enabled")
		}
	}

	if c.Report.AnalysisDays <= 0 {
		errs = append(errs, "report: analysis_days must be positive")
	}
	if c.Report.MinPatternSamples < 1 {
		errs = append(errs, "report: min_pattern_samples must be at least 1")
	}
	if c.Report.CombinedWindow.Duration <= 0 {
		errs = append(errs, "report: combined_window must be positive")
	}

	// Telegram credentials come in pairs.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
