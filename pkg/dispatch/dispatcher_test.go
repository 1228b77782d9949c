package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/journal"
	"mercator-hq/notifier/pkg/rules"
	"mercator-hq/notifier/pkg/telemetry/tracing"
)

type memoryJournal struct {
	mu      sync.Mutex
	records []*journal.Record
}

func (j *memoryJournal) Record(r *journal.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, r)
	return nil
}

func (j *memoryJournal) last(t *testing.T) *journal.Record {
	t.Helper()
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == 0 {
		t.Fatal("no journal record written")
	}
	return j.records[len(j.records)-1]
}

type deliveryCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
	attempts int
}

func (c *deliveryCounter) RecordDelivery(ruleID, outcome string, attempts int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
	c.attempts += attempts
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		Timeout:       2 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		RetryTimeout:  5 * time.Second,
		MaxConcurrent: 4,
	}
}

func testRule(url string) rules.Rule {
	return rules.Rule{
		ID:       "r1",
		Callback: rules.Callback{URL: url, Method: http.MethodPost},
		Options:  rules.Options{ResourceFormat: rules.FormatV001},
	}
}

func newDispatcher(cfg config.DispatchConfig) (*Dispatcher, *memoryJournal, *deliveryCounter) {
	j := &memoryJournal{}
	c := &deliveryCounter{}
	return New(Options{Config: cfg, Journal: j, Observer: c}), j, c
}

func TestDispatcher_Success(t *testing.T) {
	var got *http.Request
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got, body = r, string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d, j, c := newDispatcher(testConfig())
	if err := d.Deliver(context.Background(), testRule(server.URL+"/delta"), testBatch()); err != nil {
		t.Fatalf("Deliver() failed: %v", err)
	}

	if got.Method != http.MethodPost || got.URL.Path != "/delta" {
		t.Errorf("request = %s %s, want POST /delta", got.Method, got.URL.Path)
	}
	for header, want := range map[string]string{
		"Content-Type":       "application/json",
		HeaderRule:           "r1",
		HeaderResourceFormat: "v0.0.1",
		"User-Agent":         config.DefaultDispatchUserAgent,
	} {
		if v := got.Header.Get(header); v != want {
			t.Errorf("header %s = %q, want %q", header, v, want)
		}
	}
	if !strings.HasPrefix(body, `[{"inserts":[`) {
		t.Errorf("body = %s, want v0.0.1 array", body)
	}

	rec := j.last(t)
	if rec.ID == "" || rec.ID != got.Header.Get(HeaderDeliveryID) {
		t.Errorf("journal ID %q does not match delivery header %q", rec.ID, got.Header.Get(HeaderDeliveryID))
	}
	if rec.Outcome != journal.OutcomeSuccess || rec.Attempts != 1 || rec.StatusCode != 204 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Statements != 3 || rec.Changesets != 2 || rec.FlushReason != "quiet" {
		t.Errorf("record batch fields = %d/%d/%s", rec.Statements, rec.Changesets, rec.FlushReason)
	}
	if c.outcomes["success"] != 1 {
		t.Errorf("observer outcomes = %v", c.outcomes)
	}
	if d.InFlight() != 0 {
		t.Errorf("InFlight() = %d after delivery", d.InFlight())
	}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	ids := make(chan string, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get(HeaderDeliveryID)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, j, _ := newDispatcher(testConfig())
	if err := d.Deliver(context.Background(), testRule(server.URL), testBatch()); err != nil {
		t.Fatalf("Deliver() failed: %v", err)
	}

	if calls.Load() != 3 {
		t.Errorf("callback hit %d times, want 3", calls.Load())
	}
	first := <-ids
	for i := 1; i < 3; i++ {
		if id := <-ids; id != first {
			t.Errorf("delivery ID changed across retries: %q vs %q", first, id)
		}
	}
	if rec := j.last(t); rec.Attempts != 3 || rec.Outcome != journal.OutcomeSuccess {
		t.Errorf("record attempts/outcome = %d/%s, want 3/success", rec.Attempts, rec.Outcome)
	}
}

func TestDispatcher_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	retries := 2
	rule := testRule(server.URL)
	rule.Options.Retry = &retries

	d, j, c := newDispatcher(testConfig())
	err := d.Deliver(context.Background(), rule, testBatch())

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Deliver() = %v, want DeliveryError", err)
	}
	if de.Attempts != 3 || de.StatusCode != http.StatusBadGateway || de.RuleID != "r1" {
		t.Errorf("DeliveryError = %+v", de)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Body != "backend down" {
		t.Errorf("cause = %v, want StatusError with body", err)
	}
	if calls.Load() != 3 {
		t.Errorf("callback hit %d times, want 3 (rule override)", calls.Load())
	}

	rec := j.last(t)
	if rec.Outcome != journal.OutcomeFailed || rec.Error == "" {
		t.Errorf("record = %+v, want failed with error", rec)
	}
	if c.outcomes["failed"] != 1 || c.attempts != 3 {
		t.Errorf("observer = %v attempts %d", c.outcomes, c.attempts)
	}
}

func TestDispatcher_ClientErrorIsFatal(t *testing.T) {
	tests := []struct {
		status int
		calls  int32
	}{
		{http.StatusBadRequest, 1},
		{http.StatusNotFound, 1},
		{http.StatusTooManyRequests, 4},
		{http.StatusRequestTimeout, 4},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			d, _, _ := newDispatcher(testConfig())
			if err := d.Deliver(context.Background(), testRule(server.URL), testBatch()); err == nil {
				t.Fatal("expected delivery error")
			}
			if calls.Load() != tt.calls {
				t.Errorf("callback hit %d times, want %d", calls.Load(), tt.calls)
			}
		})
	}
}

func TestDispatcher_NoRetryOverride(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	zero := 0
	rule := testRule(server.URL)
	rule.Options.Retry = &zero

	d, _, _ := newDispatcher(testConfig())
	d.Deliver(context.Background(), rule, testBatch())
	if calls.Load() != 1 {
		t.Errorf("callback hit %d times, want 1", calls.Load())
	}
}

func TestDispatcher_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 1
	d, j, _ := newDispatcher(cfg)

	err := d.Deliver(context.Background(), testRule(url), testBatch())
	var de *DeliveryError
	if !errors.As(err, &de) || de.StatusCode != 0 || de.Attempts != 2 {
		t.Fatalf("Deliver() = %v, want DeliveryError without status after 2 attempts", err)
	}
	if rec := j.last(t); rec.Outcome != journal.OutcomeFailed {
		t.Errorf("outcome = %s, want failed", rec.Outcome)
	}
}

func TestDispatcher_Cancelled(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d, j, c := newDispatcher(testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Deliver(ctx, testRule(server.URL), testBatch()) }()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Deliver() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Deliver did not return after cancellation")
	}

	if rec := j.last(t); rec.Outcome != journal.OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", rec.Outcome)
	}
	if c.outcomes["cancelled"] != 1 {
		t.Errorf("observer outcomes = %v", c.outcomes)
	}
}

func TestDispatcher_ConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxConcurrent = 2
	d, _, _ := newDispatcher(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Deliver(context.Background(), testRule(server.URL), testBatch())
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for d.InFlight() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("deliveries never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := d.InFlight(); n != 2 {
		t.Errorf("InFlight() = %d, want 2", n)
	}

	close(release)
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak concurrent requests = %d, want <= 2", peak.Load())
	}
}

func TestDispatcher_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceparent := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent <- r.Header.Get("traceparent")
	}))
	defer server.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	d, _, _ := newDispatcher(testConfig())
	if err := d.Deliver(ctx, testRule(server.URL), testBatch()); err != nil {
		t.Fatalf("Deliver() failed: %v", err)
	}

	got := <-traceparent
	if !strings.Contains(got, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Errorf("traceparent = %q, want trace ID propagated", got)
	}
}

func TestDispatcher_RedactsJournalURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "http://svc:secret@", 1)
	d, j, _ := newDispatcher(testConfig())
	d.Deliver(context.Background(), testRule(url), testBatch())

	if rec := j.last(t); strings.Contains(rec.CallbackURL, "secret") {
		t.Errorf("journal URL %q leaks credentials", rec.CallbackURL)
	}
}

func TestDispatcher_SpanAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	defer otel.SetTracerProvider(prev)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, _, _ := newDispatcher(testConfig())
	if err := d.Deliver(context.Background(), testRule(server.URL), testBatch()); err != nil {
		t.Fatalf("Deliver() failed: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 delivery span, got %d", len(spans))
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if v := attrs[attribute.Key(tracing.AttrAttempts)]; v.AsInt64() != 2 {
		t.Errorf("%s = %v, want 2", tracing.AttrAttempts, v.Emit())
	}
	if v := attrs[attribute.Key(tracing.AttrStatusCode)]; v.AsInt64() != http.StatusOK {
		t.Errorf("%s = %v, want 200", tracing.AttrStatusCode, v.Emit())
	}
	if v := attrs[attribute.Key(tracing.AttrRuleID)]; v.AsString() != "r1" {
		t.Errorf("%s = %q, want r1", tracing.AttrRuleID, v.AsString())
	}
}
