package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateDispatch(&cfg.Dispatch)...)
	errs = append(errs, validateIngest(&cfg.Ingest)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be non-negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be non-negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be non-negative"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must be non-negative"})
	}

	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	if cfg.FilePath == "" {
		errs = append(errs, FieldError{
			Field:   "rules.file_path",
			Message: "rule file path is required",
		})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.watch_debounce",
			Message: "watch debounce must be non-negative",
		})
	}

	return errs
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(cfg.Identity) != cfg.Identity {
		errs = append(errs, FieldError{
			Field:   "engine.identity",
			Message: "identity must not have leading or trailing whitespace",
		})
	}
	if cfg.MaxBatchSize < 0 {
		errs = append(errs, FieldError{
			Field:   "engine.max_batch_size",
			Message: "max batch size must be non-negative",
		})
	}

	return errs
}

func validateDispatch(cfg *DispatchConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "dispatch.timeout", Message: "timeout must be positive"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "dispatch.max_retries", Message: "max retries must be non-negative"})
	}
	if cfg.MaxRetries > 20 {
		errs = append(errs, FieldError{Field: "dispatch.max_retries", Message: "max retries exceeds reasonable limit (20)"})
	}
	if cfg.RetryDelay <= 0 {
		errs = append(errs, FieldError{Field: "dispatch.retry_delay", Message: "retry delay must be positive"})
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		errs = append(errs, FieldError{Field: "dispatch.max_retry_delay", Message: "max retry delay must not be less than retry delay"})
	}
	if cfg.RetryTimeout <= 0 {
		errs = append(errs, FieldError{Field: "dispatch.retry_timeout", Message: "retry timeout must be positive"})
	}
	if cfg.MaxConcurrent < 1 {
		errs = append(errs, FieldError{Field: "dispatch.max_concurrent", Message: "max concurrent must be at least 1"})
	}

	return errs
}

func validateIngest(cfg *IngestConfig) []FieldError {
	var errs []FieldError

	if cfg.OriginHeader == "" {
		errs = append(errs, FieldError{Field: "ingest.origin_header", Message: "origin header is required"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "ingest.max_body_bytes", Message: "max body bytes must be positive"})
	}

	if cfg.NATS.Enabled {
		if cfg.NATS.URL == "" {
			errs = append(errs, FieldError{Field: "ingest.nats.url", Message: "NATS URL is required when NATS ingest is enabled"})
		} else if u, err := url.Parse(cfg.NATS.URL); err != nil || u.Host == "" {
			errs = append(errs, FieldError{Field: "ingest.nats.url", Message: fmt.Sprintf("invalid NATS URL %q", cfg.NATS.URL)})
		}
		if cfg.NATS.Subject == "" {
			errs = append(errs, FieldError{Field: "ingest.nats.subject", Message: "NATS subject is required when NATS ingest is enabled"})
		}
	}

	return errs
}

func validateJournal(cfg *JournalConfig) []FieldError {
	var errs []FieldError

	// If the journal is disabled, skip validation
	if !cfg.Enabled {
		return errs
	}

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "journal.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite' or 'memory'", cfg.Backend),
		})
	}

	if cfg.Backend == "sqlite" {
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "journal.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		validDrivers := map[string]bool{"sqlite3": true, "sqlite": true}
		if !validDrivers[cfg.SQLite.Driver] {
			errs = append(errs, FieldError{
				Field:   "journal.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite3' or 'sqlite'", cfg.SQLite.Driver),
			})
		}
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.retention.days",
			Message: "retention days must be non-negative",
		})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.retention.max_records",
			Message: "max records must be non-negative",
		})
	}
	if cfg.Retention.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "journal.retention.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Retention.PruneSchedule, err),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Logging.File.Path != "" && cfg.Logging.File.MaxSizeMB < 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.file.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true, "parent_based": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', 'ratio', or 'parent_based'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	for field, path := range map[string]string{
		"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
		"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
		"telemetry.health.version_path":   cfg.Health.VersionPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: "path must start with /"})
		}
	}

	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}
	if cfg.Health.CheckTimeout > 60*time.Second {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout exceeds reasonable limit (60s)",
		})
	}

	return errs
}
