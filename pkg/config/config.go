package config

import "time"

// Config is the root configuration structure for the delta notifier.
// It contains all configuration sections for the ingest server, the rule
// table, the matching engine, callback dispatch, the delivery journal and
// telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and connection limits.
	Server ServerConfig `yaml:"server"`

	// Rules contains the location of the rule table and watch settings.
	Rules RulesConfig `yaml:"rules"`

	// Engine contains configuration for the matching and debounce engine,
	// including the identity used for self-origin filtering.
	Engine EngineConfig `yaml:"engine"`

	// Dispatch contains defaults for callback delivery: timeouts, retry
	// policy and concurrency.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Ingest contains configuration for the changeset sources (HTTP and NATS).
	Ingest IngestConfig `yaml:"ingest"`

	// Journal contains configuration for the delivery journal including
	// backend selection and retention.
	Journal JournalConfig `yaml:"journal"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:80").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown, including the final flush of
	// open debounce windows.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// RequestTimeout is the per-request handler timeout.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RulesConfig contains configuration for the rule table.
type RulesConfig struct {
	// FilePath is the path to the rule file (YAML or JSON).
	// Default: "./rules.yaml"
	FilePath string `yaml:"file_path"`

	// Watch reloads the rule file when it changes. A valid file replaces
	// the running engine; the old engine's open windows are flushed. An
	// invalid file is logged and the current table stays in force.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce is the quiet period after a file event before the
	// file is reloaded.
	// Default: 500ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// EngineConfig contains configuration for the matching engine.
type EngineConfig struct {
	// Identity is the origin identifier under which this engine's callbacks
	// write back into the store. Changesets carrying this origin are ignored
	// by rules with ignoreFromSelf set.
	Identity string `yaml:"identity"`

	// IdentifyByCallbackHost also treats an origin equal to a rule's
	// callback host as self-originated for that rule.
	// Default: false
	IdentifyByCallbackHost bool `yaml:"identify_by_callback_host"`

	// FlushOnShutdown flushes open debounce windows during shutdown instead
	// of dropping them.
	// Default: true
	FlushOnShutdown bool `yaml:"flush_on_shutdown"`

	// MaxBatchSize flushes a window immediately once it holds this many
	// statements. 0 disables the limit.
	// Default: 0
	MaxBatchSize int `yaml:"max_batch_size"`
}

// DispatchConfig contains configuration for callback delivery.
type DispatchConfig struct {
	// Timeout is the per-attempt HTTP timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries after the first attempt. Rules may
	// override it with options.retry.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the initial backoff delay; it doubles per attempt.
	// Default: 1s
	RetryDelay time.Duration `yaml:"retry_delay"`

	// MaxRetryDelay caps the backoff delay.
	// Default: 30s
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`

	// RetryTimeout bounds the total time spent on one delivery. Rules may
	// override it with options.retryTimeout.
	// Default: 2m
	RetryTimeout time.Duration `yaml:"retry_timeout"`

	// MaxConcurrent bounds the number of in-flight deliveries.
	// Default: 64
	MaxConcurrent int `yaml:"max_concurrent"`

	// UserAgent is sent with every callback request.
	// Default: "mercator-notifier"
	UserAgent string `yaml:"user_agent"`
}

// IngestConfig contains configuration for changeset ingestion.
type IngestConfig struct {
	// OriginHeader is the HTTP header carrying the changeset origin on
	// POST /delta and POST /changesets.
	// Default: "mu-call-scope-id"
	OriginHeader string `yaml:"origin_header"`

	// MaxBodyBytes limits the size of ingest request bodies.
	// Default: 10485760 (10MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// NATS contains configuration for the optional NATS subscriber.
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig contains configuration for NATS changeset ingestion.
type NATSConfig struct {
	// Enabled controls whether the NATS subscriber runs.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// URL is the NATS server URL.
	// Default: "nats://127.0.0.1:4222"
	URL string `yaml:"url"`

	// Subject is the subject to subscribe to.
	// Default: "delta.changesets"
	Subject string `yaml:"subject"`

	// Queue is an optional queue group name for load-balanced consumers.
	Queue string `yaml:"queue"`

	// Name is the client connection name.
	// Default: "mercator-notifier"
	Name string `yaml:"name"`
}

// JournalConfig contains configuration for the delivery journal.
type JournalConfig struct {
	// Enabled controls whether delivery outcomes are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention contains journal retention policy configuration.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite backend configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/journal.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite3" (mattn/go-sqlite3, cgo), "sqlite" (modernc.org/sqlite, pure Go)
	// Default: "sqlite3"
	Driver string `yaml:"driver"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains journal retention configuration.
type RetentionConfig struct {
	// Days is the number of days to keep delivery records. 0 keeps forever.
	// Default: 30
	Days int `yaml:"days"`

	// MaxRecords caps the number of stored records. 0 disables the cap.
	// Default: 0
	MaxRecords int64 `yaml:"max_records"`

	// PruneSchedule is a standard cron expression for pruning runs.
	// Empty disables scheduled pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// File enables rotating file output in addition to stdout.
	File LogFileConfig `yaml:"file"`
}

// LogFileConfig contains rotating log file configuration.
type LogFileConfig struct {
	// Path is the log file path. Empty disables file output.
	Path string `yaml:"path"`

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	// Default: 5
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files.
	// Default: 28
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	// Default: false
	Compress bool `yaml:"compress"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "mercator"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "notifier"
	Subsystem string `yaml:"subsystem"`

	// DeliveryDurationBuckets defines histogram buckets for delivery duration (seconds).
	// Default: [0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0]
	DeliveryDurationBuckets []float64 `yaml:"delivery_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio", "parent_based"
	// Default: "parent_based"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "mercator-notifier"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
