package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "flowboard.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path can be overridden with FLOWBOARD_CONFIG. A missing file is
// not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("FLOWBOARD_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FLOWBOARD_PORT")
	setString(&cfg.Server.CORSOrigin, "FLOWBOARD_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "FLOWBOARD_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "FLOWBOARD_SHUTDOWN_TIMEOUT")

	setString(&cfg.Storage.Driver, "FLOWBOARD_STORAGE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FLOWBOARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FLOWBOARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FLOWBOARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FLOWBOARD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FLOWBOARD_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "FLOWBOARD_SQLITE_PATH")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "FLOWBOARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLOWBOARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FLOWBOARD_LOG_ASYNC")

	setBool(&cfg.OTEL.Enabled, "FLOWBOARD_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "FLOWBOARD_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "FLOWBOARD_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "FLOWBOARD_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "FLOWBOARD_OTEL_SAMPLE_RATE")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "FLOWBOARD_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "FLOWBOARD_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "FLOWBOARD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "FLOWBOARD_CACHE_L2_TTL")

	setInt(&cfg.Breaker.MaxFailures, "FLOWBOARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FLOWBOARD_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "FLOWBOARD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "FLOWBOARD_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "FLOWBOARD_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "FLOWBOARD_RATE_MAX_IDLE_TIME")

	// Tracker
	setInt(&cfg.Tracker.QueueSize, "FLOWBOARD_TRACKER_QUEUE_SIZE")
	setDuration(&cfg.Tracker.IdleTimeout, "FLOWBOARD_TRACKER_IDLE_TIMEOUT")
	setDuration(&cfg.Tracker.PendingTTL, "FLOWBOARD_TRACKER_PENDING_TTL")
	setInt(&cfg.Tracker.PendingMax, "FLOWBOARD_TRACKER_PENDING_MAX")
	setBool(&cfg.Tracker.CompleteOnTerminal, "FLOWBOARD_TRACKER_COMPLETE_ON_TERMINAL")
	setInt(&cfg.Tracker.MaxBatch, "FLOWBOARD_TRACKER_MAX_BATCH")

	setDuration(&cfg.Aggregator.Timeout, "FLOWBOARD_AGGREGATOR_TIMEOUT")
	setInt(&cfg.Aggregator.BackfillMaxDays, "FLOWBOARD_AGGREGATOR_BACKFILL_MAX_DAYS")
	setDuration(&cfg.Aggregator.RetryMaxTime, "FLOWBOARD_AGGREGATOR_RETRY_MAX_TIME")

	// Scheduler
	setBool(&cfg.Scheduler.Enabled, "FLOWBOARD_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.Interval, "FLOWBOARD_SCHEDULER_INTERVAL")
	setInt(&cfg.Scheduler.MaxParallel, "FLOWBOARD_SCHEDULER_MAX_PARALLEL")
	setDuration(&cfg.Scheduler.RetryMaxTime, "FLOWBOARD_SCHEDULER_RETRY_MAX_TIME")

	setInt(&cfg.Query.MaxDays, "FLOWBOARD_QUERY_MAX_DAYS")
	setInt(&cfg.Dashboard.WindowDays, "FLOWBOARD_DASHBOARD_WINDOW_DAYS")
	setDuration(&cfg.Dashboard.OverdueAfter, "FLOWBOARD_DASHBOARD_OVERDUE_AFTER")

	setString(&cfg.Catalog.Path, "FLOWBOARD_CATALOG_PATH")
	setBool(&cfg.Catalog.Watch, "FLOWBOARD_CATALOG_WATCH")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "FLOWBOARD_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "FLOWBOARD_IDEMPOTENCY_TTL")

	setBool(&cfg.MCP.Enabled, "FLOWBOARD_MCP_ENABLED")
	setString(&cfg.MCP.Path, "FLOWBOARD_MCP_PATH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("storage.driver must be postgres or sqlite, got %q", cfg.Storage.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Tracker.QueueSize < 1 {
		return errors.New("tracker.queue_size must be >= 1")
	}
	if cfg.Tracker.MaxBatch < 1 {
		return errors.New("tracker.max_batch must be >= 1")
	}
	if cfg.Aggregator.Timeout <= 0 {
		return errors.New("aggregator.timeout must be > 0")
	}
	if cfg.Scheduler.MaxParallel < 1 {
		return errors.New("scheduler.max_parallel must be >= 1")
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be > 0")
	}
	if cfg.Query.MaxDays < 1 {
		return errors.New("query.max_days must be >= 1")
	}
	if cfg.Dashboard.WindowDays < 1 {
		return errors.New("dashboard.window_days must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
