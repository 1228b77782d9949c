package journal

import (
	"context"
	"time"
)

// Outcome is the final state of a delivery.
type Outcome string

const (
	// OutcomeSuccess means the callback answered with a 2xx status.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailed means every attempt failed or a fatal status was returned.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the delivery was abandoned during shutdown.
	OutcomeCancelled Outcome = "cancelled"
)

// Record is the journal entry for one delivered (or undeliverable) batch.
type Record struct {
	// ID is the delivery ID sent to the callback in X-Delta-Delivery-Id.
	ID string `json:"id"`

	RuleID         string `json:"rule_id"`
	CallbackURL    string `json:"callback_url"`
	Method         string `json:"method"`
	ResourceFormat string `json:"resource_format"`

	Statements  int    `json:"statements"`
	Changesets  int    `json:"changesets"`
	FlushReason string `json:"flush_reason"`

	// Window bounds.
	OpenedAt  time.Time `json:"opened_at"`
	FlushedAt time.Time `json:"flushed_at"`

	// Delivery bounds.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Attempts   int     `json:"attempts"`
	StatusCode int     `json:"status_code,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Error      string  `json:"error,omitempty"`
}

// Duration returns the time spent delivering.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Query filters journal records. Zero fields do not filter.
type Query struct {
	RuleID  string
	Outcome Outcome

	// Since and Until bound FlushedAt, inclusive.
	Since *time.Time
	Until *time.Time

	// Limit caps the result size; 0 uses the backend default of 100.
	Limit  int
	Offset int

	// Ascending returns the oldest records first. The default is newest
	// first.
	Ascending bool
}

// DefaultQueryLimit is the result cap applied when Query.Limit is 0.
const DefaultQueryLimit = 100

// Storage persists journal records.
type Storage interface {
	// Store persists a record. Storing an existing ID replaces it.
	Store(ctx context.Context, record *Record) error

	// Query returns records matching q ordered by FlushedAt.
	Query(ctx context.Context, q *Query) ([]*Record, error)

	// Count returns the number of records matching q, ignoring paging.
	Count(ctx context.Context, q *Query) (int64, error)

	// Delete removes records matching q, ignoring paging, and returns how
	// many were removed.
	Delete(ctx context.Context, q *Query) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
