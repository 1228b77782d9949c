package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stmt(s, p, o string) delta.Statement {
	return delta.Statement{Subject: delta.URI(s), Predicate: delta.URI(p), Object: delta.URI(o)}
}

func changeset(id, origin string, stmts ...delta.Statement) *delta.Changeset {
	return &delta.Changeset{ID: id, Origin: origin, Direction: delta.Insert, Statements: stmts}
}

func rule(id string, grace time.Duration, match rules.Pattern) rules.Rule {
	return rules.Rule{
		ID:       id,
		Match:    match,
		Callback: rules.Callback{URL: "http://" + id + "/delta", Method: "POST"},
		Options:  rules.Options{ResourceFormat: rules.FormatV001, GracePeriod: grace, IgnoreFromSelf: true},
	}
}

func mustTable(t *testing.T, rs ...rules.Rule) *rules.Table {
	t.Helper()
	table, err := rules.NewTable(rs)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table
}

type delivered struct {
	rule  rules.Rule
	batch *delta.Batch
}

// recordingDeliverer captures deliveries and can be told to fail or panic
// for specific rules.
type recordingDeliverer struct {
	mu     sync.Mutex
	all    []delivered
	ch     chan delivered
	fail   map[string]bool
	panics map[string]bool
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{
		ch:     make(chan delivered, 64),
		fail:   map[string]bool{},
		panics: map[string]bool{},
	}
}

func (d *recordingDeliverer) Deliver(ctx context.Context, r rules.Rule, b *delta.Batch) error {
	d.mu.Lock()
	fail, boom := d.fail[r.ID], d.panics[r.ID]
	d.mu.Unlock()

	if boom {
		panic("deliverer exploded")
	}
	if fail {
		return errors.New("endpoint unavailable")
	}

	d.mu.Lock()
	d.all = append(d.all, delivered{rule: r, batch: b})
	d.mu.Unlock()
	d.ch <- delivered{rule: r, batch: b}
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.all)
}

func waitDelivery(t *testing.T, ch <-chan delivered) delivered {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivered{}
	}
}

func expectNoDelivery(t *testing.T, ch <-chan delivered, label string) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("%s: unexpected delivery for rule %s with %d statements", label, d.rule.ID, d.batch.Len())
	case <-time.After(50 * time.Millisecond):
	}
}

// flushRecorder collects batches from a bare Coalescer.
type flushRecorder struct {
	ch chan *delta.Batch
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ch: make(chan *delta.Batch, 16)}
}

func (f *flushRecorder) flush(_ rules.Rule, b *delta.Batch) {
	f.ch <- b
}

func (f *flushRecorder) wait(t *testing.T) *delta.Batch {
	t.Helper()
	select {
	case b := <-f.ch:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for flush")
		return nil
	}
}

func (f *flushRecorder) none(t *testing.T, label string) {
	t.Helper()
	select {
	case b := <-f.ch:
		t.Fatalf("%s: unexpected flush of %d statements", label, b.Len())
	case <-time.After(50 * time.Millisecond):
	}
}

func entry(csID string, s delta.Statement) delta.Entry {
	return delta.Entry{ChangesetID: csID, Direction: delta.Insert, Statement: s}
}

func subjects(b *delta.Batch) string {
	var out []string
	for _, e := range b.Entries {
		out = append(out, e.Statement.Subject.Value)
	}
	return fmt.Sprint(out)
}
