package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/juju/clock"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/engine"
	"mercator-hq/notifier/pkg/server/middleware"
	"mercator-hq/notifier/pkg/telemetry/health"
	"mercator-hq/notifier/pkg/telemetry/tracing"
)

// IngestObserver receives ingest counts, typically to update metrics.
type IngestObserver interface {
	RecordChangesets(source string, changesets, statements int)
	RecordIngestError(source, reason string)
}

type nopObserver struct{}

func (nopObserver) RecordChangesets(string, int, int) {}
func (nopObserver) RecordIngestError(string, string)  {}

// Options wires a Server to the rest of the process.
type Options struct {
	Config *config.Config

	// Engines holds the engine serving the current rule table.
	Engines *engine.Holder

	// Health serves the probe endpoints when set.
	Health  *health.Checker
	Version health.VersionInfo

	// Metrics is mounted at telemetry.metrics.path when set.
	Metrics http.Handler

	Observer IngestObserver
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Server is the ingest HTTP server.
type Server struct {
	config   *config.Config
	engines  *engine.Holder
	health   *health.Checker
	version  health.VersionInfo
	metrics  http.Handler
	observer IngestObserver
	clock    clock.Clock
	logger   *slog.Logger

	httpServer   *http.Server
	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New creates a server. It does not listen until Start.
func New(opts Options) *Server {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		config:       opts.Config,
		engines:      opts.Engines,
		health:       opts.Health,
		version:      opts.Version,
		metrics:      opts.Metrics,
		observer:     opts.Observer,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
}

// Start listens on server.listen_address and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	select {
	case <-s.shutdownChan:
		s.mu.Unlock()
		return fmt.Errorf("server has been shut down")
	default:
	}

	cfg := s.config.Server
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting ingest server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Shutdown marks the process as draining and gracefully stops the HTTP
// server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		if s.health != nil {
			s.health.SetDraining(true)
		}

		timeout := s.config.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("ingest server stopped")
	})

	return shutdownErr
}

// setupRoutes configures HTTP routes and middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /delta", s.ingestHandler(decodeMu))
	mux.Handle("POST /changesets", s.ingestHandler(decodeNative))
	mux.HandleFunc("GET /rules", s.handleRules)

	if s.health != nil {
		hc := s.config.Telemetry.Health
		mux.Handle(hc.LivenessPath, s.health.LivenessHandler())
		mux.Handle(hc.ReadinessPath, s.health.ReadinessHandler())
		mux.Handle(hc.VersionPath, health.VersionHandler(s.version))
	}
	if s.metrics != nil && s.config.Telemetry.Metrics.Enabled {
		mux.Handle(s.config.Telemetry.Metrics.Path, s.metrics)
	}

	return middleware.Chain(mux,
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger),
		middleware.RequestIDMiddleware,
		tracing.HTTPMiddleware,
		middleware.TimeoutMiddleware(s.config.Server.RequestTimeout),
	)
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}
