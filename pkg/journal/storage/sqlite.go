package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/journal"
)

const sqliteBackend = "sqlite"

// SQLiteStorage implements journal.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config config.SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, creating its directory and schema
// if needed.
func NewSQLiteStorage(cfg config.SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if cfg.Driver == "" {
		cfg.Driver = config.DefaultJournalSQLiteDriver
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = config.DefaultJournalSQLiteBusyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal.storage.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, journal.NewStorageError(sqliteBackend, "mkdir", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, journal.NewStorageError(sqliteBackend, "open", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := &SQLiteStorage{
		db:     db,
		config: cfg,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite journal initialized",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"wal_mode", cfg.WALMode,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return journal.NewStorageError(sqliteBackend, "enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return journal.NewStorageError(sqliteBackend, "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return journal.NewStorageError(sqliteBackend, "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return journal.NewStorageError(sqliteBackend, "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return journal.NewStorageError(sqliteBackend, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return journal.NewStorageError(sqliteBackend, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// Store persists a record, replacing any record with the same ID.
func (s *SQLiteStorage) Store(ctx context.Context, record *journal.Record) error {
	var statusCode, errorVal any
	if record.StatusCode != 0 {
		statusCode = record.StatusCode
	}
	if record.Error != "" {
		errorVal = record.Error
	}

	_, err := s.db.ExecContext(ctx, insertDelivery,
		record.ID, record.RuleID, record.CallbackURL, record.Method, record.ResourceFormat,
		record.Statements, record.Changesets, record.FlushReason,
		toNanos(record.OpenedAt), toNanos(record.FlushedAt), toNanos(record.StartedAt), toNanos(record.FinishedAt),
		record.Attempts, statusCode, string(record.Outcome), errorVal,
	)
	if err != nil {
		return journal.NewStorageError(sqliteBackend, "store", err)
	}
	return nil
}

// Query returns records matching q.
func (s *SQLiteStorage) Query(ctx context.Context, q *journal.Query) ([]*journal.Record, error) {
	if q == nil {
		q = &journal.Query{}
	}
	where, args := buildWhereClause(q)

	sqlQuery := "SELECT " + selectColumns + " FROM deliveries"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	sqlQuery += fmt.Sprintf(" ORDER BY flushed_at %s, id %s", order, order)

	limit := journal.DefaultQueryLimit
	if q.Limit > 0 {
		limit = q.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, journal.NewStorageError(sqliteBackend, "query", err)
	}
	defer rows.Close()

	records := []*journal.Record{}
	for rows.Next() {
		record, err := scanRow(rows)
		if err != nil {
			return nil, journal.NewStorageError(sqliteBackend, "scan", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, journal.NewStorageError(sqliteBackend, "query", err)
	}
	return records, nil
}

// Count returns the number of records matching q.
func (s *SQLiteStorage) Count(ctx context.Context, q *journal.Query) (int64, error) {
	if q == nil {
		q = &journal.Query{}
	}
	where, args := buildWhereClause(q)

	sqlQuery := "SELECT COUNT(*) FROM deliveries"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, journal.NewStorageError(sqliteBackend, "count", err)
	}
	return count, nil
}

// Delete removes records matching q and returns how many were removed.
func (s *SQLiteStorage) Delete(ctx context.Context, q *journal.Query) (int64, error) {
	if q == nil {
		q = &journal.Query{}
	}
	where, args := buildWhereClause(q)

	sqlQuery := "DELETE FROM deliveries"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, journal.NewStorageError(sqliteBackend, "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, journal.NewStorageError(sqliteBackend, "delete", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return journal.NewStorageError(sqliteBackend, "ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return journal.NewStorageError(sqliteBackend, "close", err)
	}
	s.logger.Info("SQLite journal closed")
	return nil
}

// buildWhereClause returns the WHERE clause (without the keyword) and its
// arguments.
func buildWhereClause(q *journal.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if q.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(q.Outcome))
	}
	if q.Since != nil {
		conditions = append(conditions, "flushed_at >= ?")
		args = append(args, toNanos(*q.Since))
	}
	if q.Until != nil {
		conditions = append(conditions, "flushed_at <= ?")
		args = append(args, toNanos(*q.Until))
	}

	return strings.Join(conditions, " AND "), args
}

func scanRow(rows *sql.Rows) (*journal.Record, error) {
	var (
		r                                  journal.Record
		opened, flushed, started, finished int64
		statusCode                         sql.NullInt64
		outcome                            string
		errorVal                           sql.NullString
	)
	err := rows.Scan(
		&r.ID, &r.RuleID, &r.CallbackURL, &r.Method, &r.ResourceFormat,
		&r.Statements, &r.Changesets, &r.FlushReason,
		&opened, &flushed, &started, &finished,
		&r.Attempts, &statusCode, &outcome, &errorVal,
	)
	if err != nil {
		return nil, err
	}

	r.OpenedAt = fromNanos(opened)
	r.FlushedAt = fromNanos(flushed)
	r.StartedAt = fromNanos(started)
	r.FinishedAt = fromNanos(finished)
	r.StatusCode = int(statusCode.Int64)
	r.Outcome = journal.Outcome(outcome)
	r.Error = errorVal.String
	return &r, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
