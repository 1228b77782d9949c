package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultRequestTimeout  = 10 * time.Second

	// Rules defaults
	DefaultRulesFilePath      = "./rules.yaml"
	DefaultRulesWatchDebounce = 500 * time.Millisecond

	// Engine defaults
	DefaultEngineFlushOnShutdown = true

	// Dispatch defaults
	DefaultDispatchTimeout       = 10 * time.Second
	DefaultDispatchMaxRetries    = 3
	DefaultDispatchRetryDelay    = 1 * time.Second
	DefaultDispatchMaxRetryDelay = 30 * time.Second
	DefaultDispatchRetryTimeout  = 2 * time.Minute
	DefaultDispatchMaxConcurrent = 64
	DefaultDispatchUserAgent     = "mercator-notifier"

	// Ingest defaults
	DefaultIngestOriginHeader = "mu-call-scope-id"
	DefaultIngestMaxBodyBytes = int64(10 * 1024 * 1024)
	DefaultNATSURL            = "nats://127.0.0.1:4222"
	DefaultNATSSubject        = "delta.changesets"
	DefaultNATSName           = "mercator-notifier"

	// Journal defaults
	DefaultJournalEnabled             = true
	DefaultJournalBackend             = "sqlite"
	DefaultJournalSQLitePath          = "data/journal.db"
	DefaultJournalSQLiteDriver        = "sqlite3"
	DefaultJournalSQLiteMaxOpenConns  = 10
	DefaultJournalSQLiteMaxIdleConns  = 5
	DefaultJournalSQLiteWALMode       = true
	DefaultJournalSQLiteBusyTimeout   = 5 * time.Second
	DefaultJournalRetentionDays       = 30
	DefaultJournalRetentionSchedule   = "0 3 * * *"
	DefaultJournalRetentionMaxRecords = int64(0)

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLogFileMaxSizeMB   = 100
	DefaultLogFileMaxBackups  = 5
	DefaultLogFileMaxAgeDays  = 28
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "mercator"
	DefaultMetricsSubsystem   = "notifier"
	DefaultTracingSampler     = "parent_based"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "mercator-notifier"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultVersionPath        = "/version"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// DefaultDeliveryDurationBuckets are the histogram buckets for callback
// delivery latency in seconds.
var DefaultDeliveryDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// New returns a Config with every default applied. Fields whose zero value
// is meaningful (booleans defaulting to true, retry and retention counts) are
// seeded here, before YAML decoding, so that an explicit zero in the file is
// preserved.
func New() *Config {
	cfg := &Config{}
	cfg.Dispatch.MaxRetries = DefaultDispatchMaxRetries
	cfg.Journal.Retention.Days = DefaultJournalRetentionDays
	cfg.Engine.FlushOnShutdown = DefaultEngineFlushOnShutdown
	cfg.Journal.Enabled = DefaultJournalEnabled
	cfg.Journal.SQLite.WALMode = DefaultJournalSQLiteWALMode
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}

	// Rules defaults
	if cfg.Rules.FilePath == "" {
		cfg.Rules.FilePath = DefaultRulesFilePath
	}
	if cfg.Rules.WatchDebounce == 0 {
		cfg.Rules.WatchDebounce = DefaultRulesWatchDebounce
	}

	applyDispatchDefaults(&cfg.Dispatch)

	// Ingest defaults
	if cfg.Ingest.OriginHeader == "" {
		cfg.Ingest.OriginHeader = DefaultIngestOriginHeader
	}
	if cfg.Ingest.MaxBodyBytes == 0 {
		cfg.Ingest.MaxBodyBytes = DefaultIngestMaxBodyBytes
	}
	if cfg.Ingest.NATS.URL == "" {
		cfg.Ingest.NATS.URL = DefaultNATSURL
	}
	if cfg.Ingest.NATS.Subject == "" {
		cfg.Ingest.NATS.Subject = DefaultNATSSubject
	}
	if cfg.Ingest.NATS.Name == "" {
		cfg.Ingest.NATS.Name = DefaultNATSName
	}

	applyJournalDefaults(&cfg.Journal)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyDispatchDefaults(d *DispatchConfig) {
	if d.Timeout == 0 {
		d.Timeout = DefaultDispatchTimeout
	}
	if d.RetryDelay == 0 {
		d.RetryDelay = DefaultDispatchRetryDelay
	}
	if d.MaxRetryDelay == 0 {
		d.MaxRetryDelay = DefaultDispatchMaxRetryDelay
	}
	if d.RetryTimeout == 0 {
		d.RetryTimeout = DefaultDispatchRetryTimeout
	}
	if d.MaxConcurrent == 0 {
		d.MaxConcurrent = DefaultDispatchMaxConcurrent
	}
	if d.UserAgent == "" {
		d.UserAgent = DefaultDispatchUserAgent
	}
}

func applyJournalDefaults(j *JournalConfig) {
	if j.Backend == "" {
		j.Backend = DefaultJournalBackend
	}
	if j.SQLite.Path == "" {
		j.SQLite.Path = DefaultJournalSQLitePath
	}
	if j.SQLite.Driver == "" {
		j.SQLite.Driver = DefaultJournalSQLiteDriver
	}
	if j.SQLite.MaxOpenConns == 0 {
		j.SQLite.MaxOpenConns = DefaultJournalSQLiteMaxOpenConns
	}
	if j.SQLite.MaxIdleConns == 0 {
		j.SQLite.MaxIdleConns = DefaultJournalSQLiteMaxIdleConns
	}
	if j.SQLite.BusyTimeout == 0 {
		j.SQLite.BusyTimeout = DefaultJournalSQLiteBusyTimeout
	}
	if j.Retention.PruneSchedule == "" {
		j.Retention.PruneSchedule = DefaultJournalRetentionSchedule
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Logging.File.MaxSizeMB == 0 {
		t.Logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if t.Logging.File.MaxBackups == 0 {
		t.Logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if t.Logging.File.MaxAgeDays == 0 {
		t.Logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(t.Metrics.DeliveryDurationBuckets) == 0 {
		t.Metrics.DeliveryDurationBuckets = append([]float64(nil), DefaultDeliveryDurationBuckets...)
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}

	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.VersionPath == "" {
		t.Health.VersionPath = DefaultVersionPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
