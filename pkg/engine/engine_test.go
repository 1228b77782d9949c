package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
)

func newTestEngine(t *testing.T, d Deliverer, opts Options, rs ...rules.Rule) (*Engine, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	opts.Clock = clk
	e := New(mustTable(t, rs...), d, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, clk
}

func TestEngine_RuleIsolation(t *testing.T) {
	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{},
		rule("fast", 100*time.Millisecond, rules.Pattern{Predicate: delta.URI("P")}),
		rule("slow", 300*time.Millisecond, rules.Pattern{Predicate: delta.URI("P")}),
	)

	res := e.Ingest(context.Background(), changeset("cs1", "", stmt("S", "P", "O")))
	if res.Matches["fast"] != 1 || res.Matches["slow"] != 1 {
		t.Fatalf("Matches = %v, want one per rule", res.Matches)
	}

	clk.Advance(100 * time.Millisecond)
	got := waitDelivery(t, d.ch)
	if got.rule.ID != "fast" {
		t.Fatalf("first delivery for %q, want fast", got.rule.ID)
	}
	expectNoDelivery(t, d.ch, "slow before its grace period")

	// A new match for the slow rule must not disturb the fast rule.
	clk.Advance(100 * time.Millisecond)
	e.Ingest(context.Background(), changeset("cs2", "", stmt("T", "P", "O")))
	if e.States()["fast"] != Accumulating {
		t.Errorf("fast rule state = %v, want accumulating", e.States()["fast"])
	}

	clk.Advance(100 * time.Millisecond)
	got = waitDelivery(t, d.ch)
	if got.rule.ID != "fast" || subjects(got.batch) != "[T]" {
		t.Fatalf("got %s %s, want fast [T]", got.rule.ID, subjects(got.batch))
	}

	clk.Advance(200 * time.Millisecond)
	got = waitDelivery(t, d.ch)
	if got.rule.ID != "slow" || subjects(got.batch) != "[S T]" {
		t.Fatalf("got %s %s, want slow [S T]", got.rule.ID, subjects(got.batch))
	}
}

func TestEngine_OriginFilter(t *testing.T) {
	self := rule("self", 10*time.Millisecond, rules.Pattern{})
	open := rule("open", 10*time.Millisecond, rules.Pattern{})
	open.Options.IgnoreFromSelf = false

	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{Filter: OriginFilter{Identity: "notifier"}}, self, open)

	res := e.Ingest(context.Background(), changeset("cs1", "notifier", stmt("S", "P", "O")))
	if len(res.Ignored) != 1 || res.Ignored[0] != "self" {
		t.Errorf("Ignored = %v, want [self]", res.Ignored)
	}
	if _, ok := res.Matches["self"]; ok {
		t.Error("self-originated changeset matched an ignoring rule")
	}
	if res.Matches["open"] != 1 {
		t.Errorf("Matches[open] = %d, want 1", res.Matches["open"])
	}

	clk.Advance(10 * time.Millisecond)
	got := waitDelivery(t, d.ch)
	if got.rule.ID != "open" {
		t.Errorf("delivery for %q, want open", got.rule.ID)
	}
	expectNoDelivery(t, d.ch, "self rule")

	if e.States()["self"] != Idle {
		t.Errorf("self rule state = %v, want idle", e.States()["self"])
	}
}

func TestEngine_CatchAllAndMalformed(t *testing.T) {
	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{},
		rule("all", 10*time.Millisecond, rules.Pattern{}),
		rule("typed", 10*time.Millisecond, rules.Pattern{
			Predicate: delta.URI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"),
			Object:    delta.URI("http://vocab.deri.ie/cogs#Job"),
		}),
	)

	cs := changeset("cs1", "",
		stmt("A", "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", "http://vocab.deri.ie/cogs#Job"),
		stmt("B", "http://purl.org/dc/terms/title", "x"),
		delta.Statement{Subject: delta.URI("C")},
	)
	res := e.Ingest(context.Background(), cs)
	if res.Statements != 3 {
		t.Errorf("Statements = %d, want 3", res.Statements)
	}
	if res.Matches["all"] != 2 || res.Matches["typed"] != 1 {
		t.Errorf("Matches = %v, want all=2 typed=1", res.Matches)
	}

	clk.Advance(10 * time.Millisecond)
	byRule := map[string]string{}
	for i := 0; i < 2; i++ {
		got := waitDelivery(t, d.ch)
		byRule[got.rule.ID] = subjects(got.batch)
	}
	if byRule["all"] != "[A B]" || byRule["typed"] != "[A]" {
		t.Errorf("deliveries = %v", byRule)
	}
}

func TestEngine_NoMatchLeavesRuleIdle(t *testing.T) {
	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{}, rule("r", 10*time.Millisecond, rules.Pattern{Predicate: delta.URI("Q")}))

	res := e.Ingest(context.Background(), changeset("cs1", "", stmt("S", "P", "O")))
	if len(res.Matches) != 0 {
		t.Errorf("Matches = %v, want none", res.Matches)
	}
	clk.Advance(time.Second)
	expectNoDelivery(t, d.ch, "unmatched rule")
}

func TestEngine_DeliveryFailureIsolation(t *testing.T) {
	d := newRecordingDeliverer()
	d.fail["broken"] = true
	d.panics["exploding"] = true

	e, clk := newTestEngine(t, d, Options{},
		rule("broken", 10*time.Millisecond, rules.Pattern{}),
		rule("exploding", 10*time.Millisecond, rules.Pattern{}),
		rule("healthy", 10*time.Millisecond, rules.Pattern{}),
	)

	e.Ingest(context.Background(), changeset("cs1", "", stmt("S", "P", "O")))
	clk.Advance(10 * time.Millisecond)

	got := waitDelivery(t, d.ch)
	if got.rule.ID != "healthy" {
		t.Fatalf("delivery for %q, want healthy", got.rule.ID)
	}

	// The broken rule keeps working once its endpoint recovers.
	d.mu.Lock()
	d.fail["broken"] = false
	d.mu.Unlock()

	e.Ingest(context.Background(), changeset("cs2", "", stmt("T", "P", "O")))
	clk.Advance(10 * time.Millisecond)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[waitDelivery(t, d.ch).rule.ID] = true
	}
	if !seen["broken"] || !seen["healthy"] {
		t.Errorf("deliveries after recovery = %v, want broken and healthy", seen)
	}
}

func TestEngine_CloseFlushesOpenWindows(t *testing.T) {
	d := newRecordingDeliverer()
	e, _ := newTestEngine(t, d, Options{FlushOnShutdown: true}, rule("r", time.Hour, rules.Pattern{}))

	e.Ingest(context.Background(), changeset("cs1", "", stmt("S", "P", "O")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := waitDelivery(t, d.ch)
	if got.batch.Reason != delta.FlushShutdown {
		t.Errorf("Reason = %q, want %q", got.batch.Reason, delta.FlushShutdown)
	}

	res := e.Ingest(context.Background(), changeset("cs2", "", stmt("T", "P", "O")))
	if len(res.Matches) != 0 {
		t.Errorf("Ingest after Close matched %v", res.Matches)
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEngine_CloseDropsWithoutFlush(t *testing.T) {
	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{FlushOnShutdown: false}, rule("r", time.Second, rules.Pattern{}))

	e.Ingest(context.Background(), changeset("cs1", "", stmt("S", "P", "O")))
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	clk.Advance(time.Minute)
	expectNoDelivery(t, d.ch, "closed engine")
	if d.count() != 0 {
		t.Errorf("delivered %d batches, want 0", d.count())
	}
}

type blockingDeliverer struct {
	started chan struct{}
}

func (b *blockingDeliverer) Deliver(ctx context.Context, _ rules.Rule, _ *delta.Batch) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_CloseCancelsSlowDeliveries(t *testing.T) {
	d := &blockingDeliverer{started: make(chan struct{})}
	e, clk := newTestEngine(t, d, Options{}, rule("r", 10*time.Millisecond, rules.Pattern{}))

	e.Ingest(context.Background(), changeset("cs1", "", stmt("S", "P", "O")))
	clk.Advance(10 * time.Millisecond)
	select {
	case <-d.started:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); err == nil {
		t.Error("Close() should report the expired context")
	}
}

func TestEngine_EvaluateManyRules(t *testing.T) {
	var rs []rules.Rule
	for i := 0; i < 2*parallelThreshold; i++ {
		rs = append(rs, rule(fmt.Sprintf("r%02d", i), time.Second, rules.Pattern{Predicate: delta.URI(fmt.Sprintf("P%d", i%2))}))
	}
	e, _ := newTestEngine(t, newRecordingDeliverer(), Options{}, rs...)

	out := e.Evaluate(changeset("cs1", "", stmt("S", "P0", "O")))
	if len(out) != len(rs) {
		t.Fatalf("Evaluate() returned %d results, want %d", len(out), len(rs))
	}
	for i, m := range out {
		if m.RuleID != rs[i].ID {
			t.Errorf("result %d is for %q, want %q", i, m.RuleID, rs[i].ID)
		}
		want := 0
		if i%2 == 0 {
			want = 1
		}
		if len(m.Statements) != want {
			t.Errorf("rule %s matched %d statements, want %d", m.RuleID, len(m.Statements), want)
		}
	}
	for id, n := range e.Pending() {
		if n != 0 {
			t.Errorf("Evaluate touched window of %s (%d pending)", id, n)
		}
	}
}

func TestEngine_ConcurrentIngest(t *testing.T) {
	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{}, rule("r", 50*time.Millisecond, rules.Pattern{}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Ingest(context.Background(), changeset(fmt.Sprintf("cs%d", i), "", stmt(fmt.Sprintf("S%d", i), "P", "O")))
		}(i)
	}
	wg.Wait()

	if got := e.Pending()["r"]; got != 20 {
		t.Fatalf("Pending = %d, want 20", got)
	}
	clk.Advance(50 * time.Millisecond)
	if got := waitDelivery(t, d.ch); got.batch.Len() != 20 {
		t.Errorf("batch has %d statements, want 20", got.batch.Len())
	}
}

type countingObserver struct {
	mu      sync.Mutex
	matched map[string]int
	ignored map[string]int
	flushed map[string]int
}

func (o *countingObserver) RuleMatched(id string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matched[id] += n
}

func (o *countingObserver) RuleIgnored(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ignored[id]++
}

func (o *countingObserver) WindowFlushed(id string, n int, _ delta.FlushReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushed[id] += n
}

func (o *countingObserver) PendingChanged(string, int) {}

func TestEngine_Observer(t *testing.T) {
	obs := &countingObserver{matched: map[string]int{}, ignored: map[string]int{}, flushed: map[string]int{}}
	d := newRecordingDeliverer()
	e, clk := newTestEngine(t, d, Options{Observer: obs, Filter: OriginFilter{Identity: "self"}},
		rule("r", 10*time.Millisecond, rules.Pattern{}))

	e.IngestAll(context.Background(), []*delta.Changeset{
		changeset("cs1", "", stmt("A", "P", "O"), stmt("B", "P", "O")),
		changeset("cs2", "self", stmt("C", "P", "O")),
	})
	clk.Advance(10 * time.Millisecond)
	waitDelivery(t, d.ch)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.matched["r"] != 2 || obs.ignored["r"] != 1 || obs.flushed["r"] != 2 {
		t.Errorf("observer saw matched=%d ignored=%d flushed=%d", obs.matched["r"], obs.ignored["r"], obs.flushed["r"])
	}
}

func TestHolder_SwapClosesPrevious(t *testing.T) {
	d := newRecordingDeliverer()
	clk := testclock.NewClock(epoch)

	oldTable := mustTable(t, rule("old", 100*time.Millisecond, rules.Pattern{}))
	newTable := mustTable(t, rule("new", 100*time.Millisecond, rules.Pattern{}))

	old := New(oldTable, d, Options{Clock: clk, FlushOnShutdown: true})
	h := NewHolder(old)

	h.Load().Ingest(context.Background(), changeset("cs-1", "", stmt("A", "p", "o")))

	next := New(newTable, d, Options{Clock: clk, FlushOnShutdown: true})
	t.Cleanup(func() { next.Close(context.Background()) })

	if err := h.Swap(context.Background(), next); err != nil {
		t.Fatalf("Swap() failed: %v", err)
	}
	if h.Load() != next {
		t.Fatal("Load() did not return the new engine")
	}

	got := waitDelivery(t, d.ch)
	if got.rule.ID != "old" || got.batch.Reason != delta.FlushShutdown {
		t.Errorf("delivery = %s/%s, want old/shutdown", got.rule.ID, got.batch.Reason)
	}

	res := h.Load().Ingest(context.Background(), changeset("cs-2", "", stmt("B", "p", "o")))
	if res.Matches["new"] != 1 || res.Matches["old"] != 0 {
		t.Errorf("matches after swap = %v", res.Matches)
	}

	if err := h.Swap(context.Background(), next); err != nil {
		t.Errorf("swapping in the same engine = %v", err)
	}
}

func TestHolder_IngestDuringSwapIsNeverDropped(t *testing.T) {
	d := newRecordingDeliverer()
	clk := testclock.NewClock(epoch)

	old := New(mustTable(t, rule("old", time.Hour, rules.Pattern{})), d, Options{Clock: clk, FlushOnShutdown: true})
	next := New(mustTable(t, rule("new", time.Hour, rules.Pattern{})), d, Options{Clock: clk, FlushOnShutdown: true})
	h := NewHolder(old)

	const workers, perWorker = 4, 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
		started = make(chan struct{})
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if w == 0 && i == perWorker/2 {
					close(started)
				}
				id := fmt.Sprintf("cs-%d-%d", w, i)
				res, err := h.IngestAll(context.Background(), []*delta.Changeset{changeset(id, "", stmt(id, "p", "o"))})
				if err != nil {
					t.Errorf("IngestAll(%s) failed: %v", id, err)
					return
				}
				mu.Lock()
				matched += res.Matches["old"] + res.Matches["new"]
				mu.Unlock()
			}
		}(w)
	}

	<-started
	if err := h.Swap(context.Background(), next); err != nil {
		t.Fatalf("Swap() failed: %v", err)
	}
	wg.Wait()
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if matched != workers*perWorker {
		t.Errorf("matched %d changesets, want %d", matched, workers*perWorker)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var flushed int
	for _, got := range d.all {
		flushed += got.batch.Len()
	}
	if flushed != workers*perWorker {
		t.Errorf("delivered %d statements across both engines, want %d", flushed, workers*perWorker)
	}
}

func TestHolder_Close(t *testing.T) {
	d := newRecordingDeliverer()
	clk := testclock.NewClock(epoch)
	h := NewHolder(New(mustTable(t, rule("r", time.Hour, rules.Pattern{})), d, Options{Clock: clk, FlushOnShutdown: true}))

	if _, err := h.IngestAll(context.Background(), []*delta.Changeset{changeset("cs-1", "", stmt("A", "p", "o"))}); err != nil {
		t.Fatalf("IngestAll() failed: %v", err)
	}
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := waitDelivery(t, d.ch); got.batch.Reason != delta.FlushShutdown {
		t.Errorf("reason = %s, want shutdown", got.batch.Reason)
	}

	if _, err := h.IngestAll(context.Background(), []*delta.Changeset{changeset("cs-2", "", stmt("B", "p", "o"))}); !errors.Is(err, ErrNoEngine) {
		t.Errorf("IngestAll() after Close = %v, want ErrNoEngine", err)
	}

	late := New(mustTable(t, rule("late", time.Hour, rules.Pattern{})), d, Options{Clock: clk})
	if err := h.Swap(context.Background(), late); !errors.Is(err, ErrHolderClosed) {
		t.Fatalf("Swap() after Close = %v, want ErrHolderClosed", err)
	}
	if h.Load() != nil {
		t.Error("a swap after Close published an engine")
	}
	if res := late.Ingest(context.Background(), changeset("cs-3", "", stmt("C", "p", "o"))); res.Matches["late"] != 0 {
		t.Errorf("refused engine still evaluates changesets: %v", res.Matches)
	}
}
