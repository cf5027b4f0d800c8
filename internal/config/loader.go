package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSIGNAL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSIGNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "POLYSIGNAL_DATABASE_DSN")
	setStr(&cfg.Database.Host, "POLYSIGNAL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POLYSIGNAL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POLYSIGNAL_DATABASE_NAME")
	setStr(&cfg.Database.User, "POLYSIGNAL_DATABASE_USER")
	setStr(&cfg.Database.Password, "POLYSIGNAL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POLYSIGNAL_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "POLYSIGNAL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POLYSIGNAL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POLYSIGNAL_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYSIGNAL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYSIGNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSIGNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSIGNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSIGNAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSIGNAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSIGNAL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYSIGNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSIGNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSIGNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSIGNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSIGNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSIGNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSIGNAL_S3_FORCE_PATH_STYLE")

	// ── Detector ──
	setFloat64(&cfg.Detector.SpikeThresholdRatio, "POLYSIGNAL_DETECTOR_SPIKE_THRESHOLD_RATIO")
	setFloat64(&cfg.Detector.MinOrderbookDepth, "POLYSIGNAL_DETECTOR_MIN_ORDERBOOK_DEPTH")
	setInt(&cfg.Detector.BaselineHours, "POLYSIGNAL_DETECTOR_BASELINE_HOURS")
	setInt(&cfg.Detector.MinSnapshotsForBaseline, "POLYSIGNAL_DETECTOR_MIN_SNAPSHOTS_FOR_BASELINE")
	setDuration(&cfg.Detector.DuplicateAlertWindow, "POLYSIGNAL_DETECTOR_DUPLICATE_ALERT_WINDOW")
	setInt(&cfg.Detector.MinSignalQuality, "POLYSIGNAL_DETECTOR_MIN_SIGNAL_QUALITY")
	setFloat64(&cfg.Detector.ContrarianInfluxThreshold, "POLYSIGNAL_DETECTOR_CONTRARIAN_INFLUX_THRESHOLD")
	setFloat64(&cfg.Detector.ContrarianMinPriorRatio, "POLYSIGNAL_DETECTOR_CONTRARIAN_MIN_PRIOR_RATIO")
	setInt(&cfg.Detector.ContrarianBaselineSnapshots, "POLYSIGNAL_DETECTOR_CONTRARIAN_BASELINE_SNAPSHOTS")
	setFloat64(&cfg.Detector.ContrarianMinPriceShift, "POLYSIGNAL_DETECTOR_CONTRARIAN_MIN_PRICE_SHIFT")
	setFloat64(&cfg.Detector.MomentumThreshold, "POLYSIGNAL_DETECTOR_MOMENTUM_THRESHOLD")
	setInt(&cfg.Detector.MomentumLookback, "POLYSIGNAL_DETECTOR_MOMENTUM_LOOKBACK")
	setFloat64(&cfg.Detector.MinBaselinePrice, "POLYSIGNAL_DETECTOR_MIN_BASELINE_PRICE")
	setFloat64(&cfg.Detector.MaxBaselinePrice, "POLYSIGNAL_DETECTOR_MAX_BASELINE_PRICE")
	setInt(&cfg.Detector.Parallelism, "POLYSIGNAL_DETECTOR_PARALLELISM")

	// ── Correlator ──
	setFloat64(&cfg.Correlator.DivergenceThreshold, "POLYSIGNAL_CORRELATOR_DIVERGENCE_THRESHOLD")
	setInt(&cfg.Correlator.WindowHours, "POLYSIGNAL_CORRELATOR_WINDOW_HOURS")
	setInt(&cfg.Correlator.MinOverlap, "POLYSIGNAL_CORRELATOR_MIN_OVERLAP")
	setFloat64(&cfg.Correlator.MinMove, "POLYSIGNAL_CORRELATOR_MIN_MOVE")
	setDuration(&cfg.Correlator.DuplicateAlertWindow, "POLYSIGNAL_CORRELATOR_DUPLICATE_ALERT_WINDOW")
	setFloat64(&cfg.Correlator.SeverityCap, "POLYSIGNAL_CORRELATOR_SEVERITY_CAP")

	// ── Resolver ──
	setFloat64(&cfg.Resolver.YesFloor, "POLYSIGNAL_RESOLVER_YES_FLOOR")
	setFloat64(&cfg.Resolver.NoCeiling, "POLYSIGNAL_RESOLVER_NO_CEILING")

	// ── Engine ──
	setDuration(&cfg.Engine.DetectionInterval, "POLYSIGNAL_ENGINE_DETECTION_INTERVAL")
	setDuration(&cfg.Engine.ResolutionInterval, "POLYSIGNAL_ENGINE_RESOLUTION_INTERVAL")
	setStr(&cfg.Engine.SignalChannel, "POLYSIGNAL_ENGINE_SIGNAL_CHANNEL")
	setStr(&cfg.Engine.SignalStream, "POLYSIGNAL_ENGINE_SIGNAL_STREAM")

	// ── Retention ──
	setBool(&cfg.Retention.Enabled, "POLYSIGNAL_RETENTION_ENABLED")
	setInt(&cfg.Retention.SnapshotRetentionDays, "POLYSIGNAL_RETENTION_SNAPSHOT_RETENTION_DAYS")
	setInt(&cfg.Retention.AlertRetentionDays, "POLYSIGNAL_RETENTION_ALERT_RETENTION_DAYS")
	setDuration(&cfg.Retention.ArchiveInterval, "POLYSIGNAL_RETENTION_ARCHIVE_INTERVAL")
	setInt(&cfg.Retention.BatchSize, "POLYSIGNAL_RETENTION_BATCH_SIZE")
	setStr(&cfg.Retention.Prefix, "POLYSIGNAL_RETENTION_PREFIX")

	// ── Report ──
	setInt(&cfg.Report.AnalysisDays, "POLYSIGNAL_REPORT_ANALYSIS_DAYS")
	setInt(&cfg.Report.MinPatternSamples, "POLYSIGNAL_REPORT_MIN_PATTERN_SAMPLES")
	setDuration(&cfg.Report.CombinedWindow, "POLYSIGNAL_REPORT_COMBINED_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSIGNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSIGNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSIGNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "POLYSIGNAL_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "POLYSIGNAL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSIGNAL_MODE")
	setStr(&cfg.LogLevel, "POLYSIGNAL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
