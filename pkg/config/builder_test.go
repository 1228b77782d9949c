package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with sensible defaults for testing.
// The resulting configuration is valid and uses the in-memory journal.
func NewTestConfig() *ConfigBuilder {
	cfg := New()
	cfg.Journal.Backend = "memory"
	cfg.Engine.Identity = "http://notifier.test/self"
	return &ConfigBuilder{cfg: *cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithListenAddress sets the server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithIdentity sets the engine identity.
func (b *ConfigBuilder) WithIdentity(id string) *ConfigBuilder {
	b.cfg.Engine.Identity = id
	return b
}

// WithRulesFile sets the rule file path.
func (b *ConfigBuilder) WithRulesFile(path string) *ConfigBuilder {
	b.cfg.Rules.FilePath = path
	return b
}

// WithDispatchRetries sets the retry count and initial delay.
func (b *ConfigBuilder) WithDispatchRetries(retries int, delay time.Duration) *ConfigBuilder {
	b.cfg.Dispatch.MaxRetries = retries
	b.cfg.Dispatch.RetryDelay = delay
	if b.cfg.Dispatch.MaxRetryDelay < delay {
		b.cfg.Dispatch.MaxRetryDelay = delay
	}
	return b
}

// WithJournalSQLite switches the journal to SQLite at path.
func (b *ConfigBuilder) WithJournalSQLite(path, driver string) *ConfigBuilder {
	b.cfg.Journal.Backend = "sqlite"
	b.cfg.Journal.SQLite.Path = path
	b.cfg.Journal.SQLite.Driver = driver
	return b
}

// WithNATS enables NATS ingest.
func (b *ConfigBuilder) WithNATS(url, subject string) *ConfigBuilder {
	b.cfg.Ingest.NATS.Enabled = true
	b.cfg.Ingest.NATS.URL = url
	b.cfg.Ingest.NATS.Subject = subject
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

// WithTracing enables tracing against endpoint.
func (b *ConfigBuilder) WithTracing(endpoint string) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = true
	b.cfg.Telemetry.Tracing.Endpoint = endpoint
	return b
}
