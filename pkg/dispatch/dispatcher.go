package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/journal"
	"mercator-hq/notifier/pkg/rules"
	"mercator-hq/notifier/pkg/telemetry/logging"
	"mercator-hq/notifier/pkg/telemetry/tracing"
)

// Header names set on every callback request.
const (
	HeaderRule           = "X-Delta-Rule"
	HeaderResourceFormat = "X-Delta-Resource-Format"
	HeaderDeliveryID     = "X-Delta-Delivery-Id"
)

// maxErrorBody bounds how much of a failed response is kept for logs.
const maxErrorBody = 512

// DeliveryObserver receives one call per finished delivery.
type DeliveryObserver interface {
	RecordDelivery(ruleID, outcome string, attempts int, duration time.Duration)
}

// JournalWriter stores delivery records.
type JournalWriter interface {
	Record(record *journal.Record) error
}

// Options configures a Dispatcher. Only Config is required.
type Options struct {
	Config config.DispatchConfig

	// Client overrides the HTTP client built from Config.
	Client *http.Client

	// Clock drives retry backoff.
	Clock clock.Clock

	Observer DeliveryObserver
	Journal  JournalWriter
	Logger   *slog.Logger
}

// Dispatcher sends batches to rule callbacks. It is safe for concurrent use
// and implements engine.Deliverer.
type Dispatcher struct {
	config   config.DispatchConfig
	client   *http.Client
	clock    clock.Clock
	observer DeliveryObserver
	journal  JournalWriter
	logger   *slog.Logger

	// slots bounds the number of in-flight deliveries.
	slots    chan struct{}
	inFlight atomic.Int64
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	cfg := opts.Config
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = config.DefaultDispatchMaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultDispatchTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = config.DefaultDispatchRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultDispatchUserAgent
	}

	client := opts.Client
	if client == nil {
		transport := &http.Transport{
			MaxIdleConns:        cfg.MaxConcurrent,
			MaxIdleConnsPerHost: cfg.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
		client = &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		}
	}

	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Dispatcher{
		config:   cfg,
		client:   client,
		clock:    opts.Clock,
		observer: opts.Observer,
		journal:  opts.Journal,
		logger:   opts.Logger.With("component", "dispatch"),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// InFlight returns the number of deliveries currently holding a slot.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// attempts returns the total number of tries for rule.
func (d *Dispatcher) attempts(rule rules.Rule) int {
	retries := d.config.MaxRetries
	if rule.Options.Retry != nil {
		retries = *rule.Options.Retry
	}
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}

func (d *Dispatcher) budget(rule rules.Rule) time.Duration {
	if rule.Options.RetryTimeout > 0 {
		return rule.Options.RetryTimeout
	}
	return d.config.RetryTimeout
}

// Deliver sends batch to rule's callback. It blocks until the delivery
// succeeds, gives up, or ctx is cancelled.
func (d *Dispatcher) Deliver(ctx context.Context, rule rules.Rule, batch *delta.Batch) error {
	record := &journal.Record{
		ID:             uuid.NewString(),
		RuleID:         rule.ID,
		CallbackURL:    logging.RedactURL(rule.Callback.URL),
		Method:         rule.Callback.Method,
		ResourceFormat: string(rule.Options.ResourceFormat),
		Statements:     batch.Len(),
		Changesets:     changesetCount(batch),
		FlushReason:    string(batch.Reason),
		OpenedAt:       batch.OpenedAt,
		FlushedAt:      batch.FlushedAt,
	}
	logger := d.logger.With(
		"rule_id", rule.ID,
		"delivery_id", record.ID,
		"callback_url", rule.Callback.URL,
	)

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		record.StartedAt = d.clock.Now()
		return d.finish(logger, record, ctx.Err())
	}
	d.inFlight.Add(1)
	defer func() {
		d.inFlight.Add(-1)
		<-d.slots
	}()

	ctx, span := tracing.Start(ctx, "notifier.deliver")
	defer span.End()
	tracing.SetDeliveryAttributes(span, rule.ID, record.ID, record.CallbackURL, record.ResourceFormat, record.Statements)

	record.StartedAt = d.clock.Now()

	body, err := Encode(rule.Options.ResourceFormat, batch)
	if err != nil {
		tracing.SetStatus(span, err)
		return d.finish(logger, record, err)
	}

	err = retry.Call(retry.CallArgs{
		Func: func() error {
			record.Attempts++
			code, err := d.send(ctx, rule, record.ID, body)
			record.StatusCode = code
			return err
		},
		IsFatalError: isFatal,
		NotifyFunc: func(err error, attempt int) {
			logger.Warn("delivery attempt failed",
				"attempt", attempt,
				"max_attempts", d.attempts(rule),
				"error", err,
			)
		},
		Attempts:    d.attempts(rule),
		Delay:       d.config.RetryDelay,
		MaxDelay:    d.config.MaxRetryDelay,
		MaxDuration: d.budget(rule),
		BackoffFunc: retry.DoubleDelay,
		Clock:       d.clock,
		Stop:        ctx.Done(),
	})
	err = unwrapRetry(err)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}

	span.SetAttributes(attribute.Int(tracing.AttrAttempts, record.Attempts))
	if record.StatusCode != 0 {
		span.SetAttributes(attribute.Int(tracing.AttrStatusCode, record.StatusCode))
	}
	tracing.SetStatus(span, err)

	return d.finish(logger, record, err)
}

// finish journals and reports a delivery. It returns the error handed back
// to the engine.
func (d *Dispatcher) finish(logger *slog.Logger, record *journal.Record, err error) error {
	record.FinishedAt = d.clock.Now()
	switch {
	case err == nil:
		record.Outcome = journal.OutcomeSuccess
	case errors.Is(err, context.Canceled) || retry.IsRetryStopped(err):
		record.Outcome = journal.OutcomeCancelled
		record.Error = err.Error()
	default:
		record.Outcome = journal.OutcomeFailed
		record.Error = err.Error()
	}

	if d.observer != nil {
		d.observer.RecordDelivery(record.RuleID, string(record.Outcome), record.Attempts, record.Duration())
	}
	if d.journal != nil {
		if jerr := d.journal.Record(record); jerr != nil {
			logger.Warn("failed to journal delivery", "error", jerr)
		}
	}

	if err == nil {
		logger.Info("batch delivered",
			"statements", record.Statements,
			"changesets", record.Changesets,
			"attempts", record.Attempts,
			"status_code", record.StatusCode,
			"duration_ms", record.Duration().Milliseconds(),
		)
		return nil
	}

	logger.Error("delivery dropped",
		"outcome", record.Outcome,
		"statements", record.Statements,
		"attempts", record.Attempts,
		"status_code", record.StatusCode,
		"error", err,
	)
	return &DeliveryError{
		RuleID:     record.RuleID,
		URL:        record.CallbackURL,
		StatusCode: record.StatusCode,
		Attempts:   record.Attempts,
		Cause:      err,
	}
}

// send performs one HTTP attempt and returns the response status code.
func (d *Dispatcher) send(ctx context.Context, rule rules.Rule, deliveryID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, rule.Callback.Method, rule.Callback.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	req.Header.Set(HeaderRule, rule.ID)
	req.Header.Set(HeaderResourceFormat, string(rule.Options.ResourceFormat))
	req.Header.Set(HeaderDeliveryID, deliveryID)
	tracing.Inject(ctx, req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}

// permanentError marks failures no retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return !status.Retryable()
	}
	return errors.Is(err, context.Canceled)
}

// unwrapRetry returns the last attempt's error when the retry budget ran
// out, so callers see why the callback failed.
func unwrapRetry(err error) error {
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) {
		if last := retry.LastError(err); last != nil {
			return fmt.Errorf("%w: %w", errRetriesExhausted, last)
		}
	}
	return err
}

var errRetriesExhausted = errors.New("retries exhausted")
