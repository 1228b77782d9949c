package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"

	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
	"mercator-hq/notifier/pkg/telemetry/logging"
)

// parallelThreshold is the rule count from which a changeset is evaluated
// against rules concurrently.
const parallelThreshold = 8

// Deliverer sends a flushed batch to the rule's callback. Implementations
// handle their own retries and logging; the engine only waits for them at
// shutdown.
type Deliverer interface {
	Deliver(ctx context.Context, rule rules.Rule, batch *delta.Batch) error
}

// Observer receives engine events, typically to update metrics. All
// methods must be safe for concurrent use.
type Observer interface {
	RuleMatched(ruleID string, statements int)
	RuleIgnored(ruleID string)
	WindowFlushed(ruleID string, statements int, reason delta.FlushReason)
	PendingChanged(ruleID string, statements int)
}

type nopObserver struct{}

func (nopObserver) RuleMatched(string, int)                      {}
func (nopObserver) RuleIgnored(string)                           {}
func (nopObserver) WindowFlushed(string, int, delta.FlushReason) {}
func (nopObserver) PendingChanged(string, int)                   {}

// Options configures an Engine.
type Options struct {
	Filter          OriginFilter
	FlushOnShutdown bool
	MaxBatchSize    int
	Clock           clock.Clock
	Observer        Observer
	Logger          *slog.Logger
}

// Engine fans changesets out to every rule. It keeps no statement state of
// its own; each rule's window lives in its Coalescer.
type Engine struct {
	table      *rules.Table
	filter     OriginFilter
	coalescers []*Coalescer
	deliverer  Deliverer
	observer   Observer
	logger     *slog.Logger
	flushOnEnd bool

	// deliveries tracks in-flight Deliver calls.
	deliveries sync.WaitGroup
	baseCtx    context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
}

// RuleMatch is the outcome of evaluating one changeset against one rule.
type RuleMatch struct {
	RuleID     string
	Ignored    bool
	Statements []delta.Statement
}

// IngestResult summarises one Ingest call.
type IngestResult struct {
	Changesets int
	Statements int
	// Matches counts matched statements per rule ID, for rules with at
	// least one match.
	Matches map[string]int
	// Ignored lists rule IDs that skipped a changeset by origin.
	Ignored []string
}

// New builds an engine over table. Each rule gets its own coalescer.
func New(table *rules.Table, deliverer Deliverer, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		table:      table,
		filter:     opts.Filter,
		deliverer:  deliverer,
		observer:   opts.Observer,
		logger:     opts.Logger.With("component", "engine"),
		flushOnEnd: opts.FlushOnShutdown,
		baseCtx:    ctx,
		cancel:     cancel,
	}

	e.coalescers = make([]*Coalescer, table.Len())
	for i := range e.coalescers {
		e.coalescers[i] = NewCoalescer(table.At(i), opts.Clock, opts.MaxBatchSize, e.handleFlush, e.logger)
	}
	return e
}

// Table returns the rule table the engine was built with.
func (e *Engine) Table() *rules.Table {
	return e.table
}

// Evaluate runs the origin filter and matcher for every rule without
// touching any window. Results are in table order.
func (e *Engine) Evaluate(cs *delta.Changeset) []RuleMatch {
	out := make([]RuleMatch, len(e.coalescers))

	eval := func(i int) {
		rule := e.coalescers[i].Rule()
		out[i].RuleID = rule.ID
		if e.filter.ShouldIgnore(rule, cs) {
			out[i].Ignored = true
			return
		}
		out[i].Statements = MatchStatements(rule.Match, cs.Statements)
	}

	if len(e.coalescers) < parallelThreshold {
		for i := range e.coalescers {
			eval(i)
		}
		return out
	}

	var wg sync.WaitGroup
	for i := range e.coalescers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eval(i)
		}(i)
	}
	wg.Wait()
	return out
}

// Ingest evaluates cs against every rule and feeds the matches into each
// rule's window. It never waits on timers or deliveries.
func (e *Engine) Ingest(ctx context.Context, cs *delta.Changeset) IngestResult {
	res := IngestResult{Changesets: 1, Statements: cs.Len(), Matches: map[string]int{}}
	ctx = logging.WithOrigin(logging.WithChangesetID(ctx, cs.ID), cs.Origin)
	if e.closed.Load() {
		e.logger.WarnContext(ctx, "changeset received after shutdown, dropping")
		return res
	}

	for i, m := range e.Evaluate(cs) {
		if m.Ignored {
			res.Ignored = append(res.Ignored, m.RuleID)
			e.observer.RuleIgnored(m.RuleID)
			continue
		}
		if len(m.Statements) == 0 {
			continue
		}

		entries := make([]delta.Entry, len(m.Statements))
		for j, s := range m.Statements {
			entries[j] = delta.Entry{
				ChangesetID: cs.ID,
				Origin:      cs.Origin,
				Direction:   cs.Direction,
				Statement:   s,
			}
		}

		c := e.coalescers[i]
		c.OnMatch(entries...)
		res.Matches[m.RuleID] = len(entries)
		e.observer.RuleMatched(m.RuleID, len(entries))
		e.observer.PendingChanged(m.RuleID, c.Pending())
	}

	e.logger.DebugContext(ctx, "changeset evaluated",
		"direction", cs.Direction,
		"statements", cs.Len(),
		"rules_matched", len(res.Matches),
		"rules_ignored", len(res.Ignored),
	)
	return res
}

// IngestAll ingests changesets in order and merges the results.
func (e *Engine) IngestAll(ctx context.Context, sets []*delta.Changeset) IngestResult {
	total := IngestResult{Matches: map[string]int{}}
	for _, cs := range sets {
		r := e.Ingest(ctx, cs)
		total.Changesets += r.Changesets
		total.Statements += r.Statements
		for id, n := range r.Matches {
			total.Matches[id] += n
		}
		total.Ignored = append(total.Ignored, r.Ignored...)
	}
	return total
}

// handleFlush starts delivery of a closed window on its own goroutine.
func (e *Engine) handleFlush(rule rules.Rule, batch *delta.Batch) {
	e.observer.WindowFlushed(rule.ID, batch.Len(), batch.Reason)
	e.observer.PendingChanged(rule.ID, 0)

	e.logger.Info("window flushed",
		"rule_id", rule.ID,
		"statements", batch.Len(),
		"reason", batch.Reason,
		"window_ms", batch.FlushedAt.Sub(batch.OpenedAt).Milliseconds(),
	)

	e.deliveries.Add(1)
	go func() {
		defer e.deliveries.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("delivery panicked", "rule_id", rule.ID, "panic", fmt.Sprint(r))
			}
		}()
		if err := e.deliverer.Deliver(e.baseCtx, rule, batch); err != nil {
			e.logger.Debug("delivery dropped", "rule_id", rule.ID, "error", err)
		}
	}()
}

// Pending returns the open window size per rule ID.
func (e *Engine) Pending() map[string]int {
	out := make(map[string]int, len(e.coalescers))
	for _, c := range e.coalescers {
		out[c.Rule().ID] = c.Pending()
	}
	return out
}

// States returns the debounce state per rule ID.
func (e *Engine) States() map[string]State {
	out := make(map[string]State, len(e.coalescers))
	for _, c := range e.coalescers {
		out[c.Rule().ID] = c.State()
	}
	return out
}

// Close stops accepting changesets, flushes or drops open windows, and
// waits for in-flight deliveries. If ctx ends first, outstanding
// deliveries are cancelled and ctx's error is returned.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	flushed, dropped := 0, 0
	for _, c := range e.coalescers {
		if e.flushOnEnd && c.Flush(delta.FlushShutdown) {
			flushed++
		}
		dropped += c.Stop()
	}
	e.logger.Info("engine closing", "windows_flushed", flushed, "statements_dropped", dropped)

	done := make(chan struct{})
	go func() {
		e.deliveries.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return fmt.Errorf("waiting for deliveries: %w", ctx.Err())
	}
}
