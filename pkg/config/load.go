package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "NOTIFIER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention NOTIFIER_SECTION_FIELD (e.g., NOTIFIER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// A missing file is not an error here: the notifier can run from defaults and
// environment alone.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg = New()
	} else {
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Rules overrides
	envString("RULES_FILE_PATH", &cfg.Rules.FilePath)
	envBool("RULES_WATCH", &cfg.Rules.Watch)

	// Engine overrides
	envString("ENGINE_IDENTITY", &cfg.Engine.Identity)
	envBool("ENGINE_IDENTIFY_BY_CALLBACK_HOST", &cfg.Engine.IdentifyByCallbackHost)
	envBool("ENGINE_FLUSH_ON_SHUTDOWN", &cfg.Engine.FlushOnShutdown)
	envInt("ENGINE_MAX_BATCH_SIZE", &cfg.Engine.MaxBatchSize)

	// Dispatch overrides
	envDuration("DISPATCH_TIMEOUT", &cfg.Dispatch.Timeout)
	envInt("DISPATCH_MAX_RETRIES", &cfg.Dispatch.MaxRetries)
	envDuration("DISPATCH_RETRY_DELAY", &cfg.Dispatch.RetryDelay)
	envDuration("DISPATCH_RETRY_TIMEOUT", &cfg.Dispatch.RetryTimeout)
	envInt("DISPATCH_MAX_CONCURRENT", &cfg.Dispatch.MaxConcurrent)

	// Ingest overrides
	envString("INGEST_ORIGIN_HEADER", &cfg.Ingest.OriginHeader)
	envBool("INGEST_NATS_ENABLED", &cfg.Ingest.NATS.Enabled)
	envString("INGEST_NATS_URL", &cfg.Ingest.NATS.URL)
	envString("INGEST_NATS_SUBJECT", &cfg.Ingest.NATS.Subject)
	envString("INGEST_NATS_QUEUE", &cfg.Ingest.NATS.Queue)

	// Journal overrides
	envBool("JOURNAL_ENABLED", &cfg.Journal.Enabled)
	envString("JOURNAL_BACKEND", &cfg.Journal.Backend)
	envString("JOURNAL_SQLITE_PATH", &cfg.Journal.SQLite.Path)
	envString("JOURNAL_SQLITE_DRIVER", &cfg.Journal.SQLite.Driver)
	envInt("JOURNAL_RETENTION_DAYS", &cfg.Journal.Retention.Days)
	envString("JOURNAL_RETENTION_PRUNE_SCHEDULE", &cfg.Journal.Retention.PruneSchedule)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("TELEMETRY_LOGGING_FILE_PATH", &cfg.Telemetry.Logging.File.Path)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
