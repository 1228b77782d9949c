package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
)

// State is the debounce state of one rule.
type State int

const (
	// Idle means no window is open and no timer is pending.
	Idle State = iota
	// Accumulating means a window is open and its timer is pending.
	Accumulating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FlushFunc receives a closed window. It is called without the coalescer
// lock held and must not block: delivery belongs on another goroutine.
type FlushFunc func(rule rules.Rule, batch *delta.Batch)

// Coalescer is the trailing-edge debounce buffer for one rule. Every match
// restarts the grace period; the window is flushed once the grace period
// passes with no further match.
type Coalescer struct {
	rule     rules.Rule
	clock    clock.Clock
	maxBatch int
	onFlush  FlushFunc
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	window   []delta.Entry
	openedAt time.Time
	timer    clock.Timer
	// generation identifies the pending timer. A timer that fires after
	// being superseded sees a different generation and does nothing.
	generation uint64
	stopped    bool

	// emitting counts detached batches not yet handed to onFlush.
	emitting sync.WaitGroup
}

// NewCoalescer returns an idle coalescer for rule. maxBatch of 0 disables
// size-triggered flushes.
func NewCoalescer(rule rules.Rule, clk clock.Clock, maxBatch int, onFlush FlushFunc, logger *slog.Logger) *Coalescer {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		rule:     rule,
		clock:    clk,
		maxBatch: maxBatch,
		onFlush:  onFlush,
		logger:   logger.With("rule_id", rule.ID),
	}
}

// OnMatch appends entries to the open window, opening one if the rule is
// idle, and restarts the grace period.
func (c *Coalescer) OnMatch(entries ...delta.Entry) {
	if len(entries) == 0 {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if c.state == Idle {
		c.state = Accumulating
		c.openedAt = c.clock.Now()
	}
	c.window = append(c.window, entries...)

	if c.maxBatch > 0 && len(c.window) >= c.maxBatch {
		batch := c.detachLocked(delta.FlushFull)
		c.emitting.Add(1)
		c.mu.Unlock()
		c.emit(batch)
		return
	}

	c.restartTimerLocked()
	c.mu.Unlock()
}

func (c *Coalescer) restartTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	gen := c.generation
	// Expiry runs on its own goroutine: some clocks invoke the callback
	// synchronously, with their own lock held.
	c.timer = c.clock.AfterFunc(c.rule.Options.GracePeriod, func() {
		go c.expire(gen)
	})
}

// expire runs when a grace-period timer fires.
func (c *Coalescer) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != Accumulating {
		c.mu.Unlock()
		return
	}
	batch := c.detachLocked(delta.FlushQuiet)
	c.emitting.Add(1)
	c.mu.Unlock()

	c.emit(batch)
}

// detachLocked closes the window and returns it, leaving the rule idle.
func (c *Coalescer) detachLocked(reason delta.FlushReason) *delta.Batch {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++

	batch := &delta.Batch{
		RuleID:    c.rule.ID,
		Entries:   c.window,
		OpenedAt:  c.openedAt,
		FlushedAt: c.clock.Now(),
		Reason:    reason,
	}
	c.window = nil
	c.openedAt = time.Time{}
	c.state = Idle
	return batch
}

// emit hands a batch to the flush callback, containing any panic so that
// one rule's failure cannot stop the timer goroutine or the ingest path.
func (c *Coalescer) emit(batch *delta.Batch) {
	defer c.emitting.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("flush handler panicked",
				"panic", fmt.Sprint(r),
				"statements", batch.Len(),
			)
		}
	}()
	c.onFlush(c.rule, batch)
}

// Flush closes the open window immediately. It reports whether a window
// was open.
func (c *Coalescer) Flush(reason delta.FlushReason) bool {
	c.mu.Lock()
	if c.state != Accumulating {
		c.mu.Unlock()
		return false
	}
	batch := c.detachLocked(reason)
	c.emitting.Add(1)
	c.mu.Unlock()

	c.emit(batch)
	return true
}

// Stop discards any open window and ignores later matches. It waits for
// a flush already in progress to reach the flush callback, and returns the
// number of statements dropped.
func (c *Coalescer) Stop() int {
	c.mu.Lock()
	c.stopped = true
	dropped := len(c.window)
	if c.state == Accumulating {
		c.detachLocked(delta.FlushShutdown)
	}
	c.mu.Unlock()

	c.emitting.Wait()
	return dropped
}

// State returns the current debounce state.
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of statements in the open window.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.window)
}

// Rule returns the rule this coalescer serves.
func (c *Coalescer) Rule() rules.Rule {
	return c.rule
}
