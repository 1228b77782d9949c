package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the journal schema.
const Schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    callback_url TEXT NOT NULL,
    method TEXT NOT NULL,
    resource_format TEXT NOT NULL,

    statements INTEGER NOT NULL,
    changesets INTEGER NOT NULL,
    flush_reason TEXT NOT NULL,

    -- Unix nanoseconds
    opened_at INTEGER NOT NULL,
    flushed_at INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,

    attempts INTEGER NOT NULL,
    status_code INTEGER,
    outcome TEXT NOT NULL,
    error TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_flushed_at ON deliveries(flushed_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_rule_id ON deliveries(rule_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_outcome ON deliveries(outcome);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertDelivery = `
INSERT OR REPLACE INTO deliveries (
    id, rule_id, callback_url, method, resource_format,
    statements, changesets, flush_reason,
    opened_at, flushed_at, started_at, finished_at,
    attempts, status_code, outcome, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `id, rule_id, callback_url, method, resource_format,
    statements, changesets, flush_reason,
    opened_at, flushed_at, started_at, finished_at,
    attempts, status_code, outcome, error`
