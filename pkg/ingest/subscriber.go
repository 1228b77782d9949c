package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/nats-io/nats.go"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/engine"
	"mercator-hq/notifier/pkg/telemetry/logging"
	"mercator-hq/notifier/pkg/telemetry/tracing"
)

// OriginHeader is the message header consulted when a changeset names no
// origin.
const OriginHeader = "Origin"

const (
	sourceNATS    = "nats"
	drainTimeout  = 10 * time.Second
	reconnectWait = 2 * time.Second
)

// ErrNotConnected is returned by Check while no connection is up.
var ErrNotConnected = errors.New("not connected to NATS")

// Observer receives ingest counts, typically to update metrics.
type Observer interface {
	RecordChangesets(source string, changesets, statements int)
	RecordIngestError(source, reason string)
}

type nopObserver struct{}

func (nopObserver) RecordChangesets(string, int, int) {}
func (nopObserver) RecordIngestError(string, string)  {}

// Reply is sent to a message's reply subject.
type Reply struct {
	Changesets int            `json:"changesets"`
	Statements int            `json:"statements"`
	Matches    map[string]int `json:"matches,omitempty"`
	Ignored    []string       `json:"ignored,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Subscriber consumes changesets from NATS.
type Subscriber struct {
	cfg      config.NATSConfig
	engines  *engine.Holder
	observer Observer
	clock    clock.Clock
	logger   *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewSubscriber returns a subscriber for cfg. It does not connect until
// Start. observer and clk may be nil.
func NewSubscriber(cfg config.NATSConfig, engines *engine.Holder, observer Observer, clk clock.Clock, logger *slog.Logger) *Subscriber {
	if observer == nil {
		observer = nopObserver{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		cfg:      cfg,
		engines:  engines,
		observer: observer,
		clock:    clk,
		logger:   logger.With("component", "ingest.nats", "subject", cfg.Subject),
	}
}

func (s *Subscriber) connectionOptions() []nats.Option {
	return []nats.Option{
		nats.Name(s.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("NATS reconnected", "url", logging.RedactURL(c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Error("NATS error", "error", err)
		}),
	}
}

// Start connects and subscribes. With a queue group configured, messages
// are shared among the group's members.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return fmt.Errorf("subscriber already started")
	}

	conn, err := nats.Connect(s.cfg.URL, s.connectionOptions()...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", logging.RedactURL(s.cfg.URL), err)
	}

	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handleMsg)
	} else {
		sub, err = conn.Subscribe(s.cfg.Subject, s.handleMsg)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %q: %w", s.cfg.Subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.logger.InfoContext(ctx, "NATS subscriber started",
		"url", logging.RedactURL(s.cfg.URL),
		"queue", s.cfg.Queue,
	)
	return nil
}

// handleMsg runs on the subscription's delivery goroutine.
func (s *Subscriber) handleMsg(msg *nats.Msg) {
	ctx := context.Background()
	if msg.Header != nil {
		ctx = tracing.Extract(ctx, http.Header(msg.Header))
	}
	ctx, span := tracing.Start(ctx, "notifier.ingest.nats")
	defer span.End()

	reply, err := s.ingest(ctx, msg)
	tracing.SetStatus(span, err)
	if err != nil {
		reply.Error = err.Error()
	}

	if msg.Reply != "" {
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			s.logger.WarnContext(ctx, "failed to reply", "error", err)
		}
	}
}

func (s *Subscriber) ingest(ctx context.Context, msg *nats.Msg) (Reply, error) {
	var origin string
	if msg.Header != nil {
		origin = msg.Header.Get(OriginHeader)
	}

	sets, err := Decode(msg.Data, origin)
	if err != nil {
		s.observer.RecordIngestError(sourceNATS, "decode")
		s.logger.WarnContext(ctx, "dropping malformed message", "error", err, "bytes", len(msg.Data))
		return Reply{}, err
	}

	now := s.clock.Now()
	for _, cs := range sets {
		delta.Stamp(cs, now)
	}

	res, err := s.engines.IngestAll(logging.WithOrigin(ctx, origin), sets)
	if err != nil {
		s.observer.RecordIngestError(sourceNATS, "unavailable")
		return Reply{}, err
	}
	s.observer.RecordChangesets(sourceNATS, res.Changesets, res.Statements)

	return Reply{
		Changesets: res.Changesets,
		Statements: res.Statements,
		Matches:    res.Matches,
		Ignored:    res.Ignored,
	}, nil
}

// Decode parses a native changeset message body. Changesets without an
// origin take fallbackOrigin.
func Decode(data []byte, fallbackOrigin string) ([]*delta.Changeset, error) {
	sets, err := delta.DecodeNative(data)
	if err != nil {
		return nil, err
	}
	for _, cs := range sets {
		if cs.Origin == "" {
			cs.Origin = fallbackOrigin
		}
	}
	return sets, nil
}

// Check reports whether the connection is up. It is registered as a
// readiness check.
func (s *Subscriber) Check(_ context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains the subscription and connection, waiting at most until ctx
// ends. Messages already received are still handed to the engine.
func (s *Subscriber) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.sub = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	drained := make(chan struct{})
	conn.SetClosedHandler(func(_ *nats.Conn) {
		s.logger.Info("NATS connection drained")
		close(drained)
	})

	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		conn.Close()
		return fmt.Errorf("draining NATS connection: %w", ctx.Err())
	}
}
