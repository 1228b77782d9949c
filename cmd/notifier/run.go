package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/dispatch"
	"mercator-hq/notifier/pkg/engine"
	"mercator-hq/notifier/pkg/ingest"
	"mercator-hq/notifier/pkg/journal"
	"mercator-hq/notifier/pkg/journal/retention"
	"mercator-hq/notifier/pkg/journal/storage"
	"mercator-hq/notifier/pkg/rules"
	"mercator-hq/notifier/pkg/server"
	"mercator-hq/notifier/pkg/telemetry/health"
	"mercator-hq/notifier/pkg/telemetry/logging"
	"mercator-hq/notifier/pkg/telemetry/metrics"
	"mercator-hq/notifier/pkg/telemetry/tracing"
)

// The collector observes every component.
var (
	_ engine.Observer           = (*metrics.Collector)(nil)
	_ dispatch.DeliveryObserver = (*metrics.Collector)(nil)
	_ journal.WriteObserver     = (*metrics.Collector)(nil)
	_ retention.PruneObserver   = (*metrics.Collector)(nil)
	_ server.IngestObserver     = (*metrics.Collector)(nil)
	_ ingest.Observer           = (*metrics.Collector)(nil)
)

var runFlags struct {
	listenAddress string
	logLevel      string
	rulesFile     string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the notifier",
	Long: `Start the notifier with the specified configuration.

The notifier loads the rule table, listens for changesets on HTTP (and NATS
when enabled) and delivers matching statements to the rules' callbacks.
On SIGINT or SIGTERM it stops accepting changesets, flushes open windows
and waits for deliveries up to server.shutdown_timeout.

Examples:
  # Start with default config
  notifier run

  # Start with custom config
  notifier run --config /etc/notifier/config.yaml

  # Override listen address
  notifier run --listen 0.0.0.0:8080

  # Validate config and rules without starting
  notifier run --dry-run`,
	RunE: runNotifier,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().StringVarP(&runFlags.rulesFile, "rules", "r", "", "override rule file path")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and rules without starting")
}

func runNotifier(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if runFlags.rulesFile != "" {
		cfg.Rules.FilePath = runFlags.rulesFile
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := logging.New(cfg.Telemetry.Logging, nil)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	defer logger.Close()
	logger.SetDefault()
	log := logger.Slog().With("component", "main")

	table, err := rules.LoadFile(cfg.Rules.FilePath)
	if err != nil {
		return cli.NewConfigError("rules.file_path", err.Error())
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		fmt.Fprintf(out, "✓ %d rules loaded from %s\n", table.Len(), cfg.Rules.FilePath)
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	cli.OnHangup(ctx, func() {
		if err := logger.Rotate(); err != nil {
			log.Error("log rotation failed", "error", err)
			return
		}
		log.Info("log file rotated")
	})

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	checker := health.New(cfg.Telemetry.Health.CheckTimeout)

	// Delivery journal
	var journalWriter dispatch.JournalWriter
	if cfg.Journal.Enabled {
		store, err := openJournal(&cfg.Journal, logger.Slog())
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer store.Close()
		checker.RegisterCheck("journal", store.Ping)

		recorder := journal.NewRecorder(store, journal.DefaultRecorderConfig(), collector, logger.Slog())
		defer recorder.Close()
		journalWriter = recorder

		pruner := retention.NewPruner(store, cfg.Journal.Retention, nil, collector, logger.Slog())
		if err := pruner.Start(ctx); err != nil {
			log.Warn("failed to start retention scheduler", "error", err)
		} else {
			defer pruner.Stop()
			if next := pruner.NextPruning(); next != nil {
				log.Debug("journal retention scheduler started", "next_pruning", next)
			}
		}
		fmt.Fprintf(out, "✓ Journal initialized (%s)\n", cfg.Journal.Backend)
	}

	dispatcher := dispatch.New(dispatch.Options{
		Config:   cfg.Dispatch,
		Observer: collector,
		Journal:  journalWriter,
		Logger:   logger.Slog(),
	})

	build := func(t *rules.Table) *engine.Engine {
		return engine.New(t, dispatcher, engine.Options{
			Filter: engine.OriginFilter{
				Identity:               cfg.Engine.Identity,
				IdentifyByCallbackHost: cfg.Engine.IdentifyByCallbackHost,
			},
			FlushOnShutdown: cfg.Engine.FlushOnShutdown,
			MaxBatchSize:    cfg.Engine.MaxBatchSize,
			Observer:        collector,
			Logger:          logger.Slog(),
		})
	}

	engines := engine.NewHolder(build(table))
	collector.RulesLoaded(table.Len(), nil)
	checker.RegisterCheck("rules", func(context.Context) error {
		if engines.Load() == nil {
			return errors.New("no rule table loaded")
		}
		return nil
	})
	fmt.Fprintf(out, "✓ Rules loaded (%d rules)\n", table.Len())

	// watchers is waited on before the holder closes, so a reload that
	// fires during shutdown cannot publish an engine nobody closes.
	var watchers sync.WaitGroup
	if cfg.Rules.Watch {
		watcher := rules.NewWatcher(cfg.Rules.FilePath, cfg.Rules.WatchDebounce, nil, logger.Slog())
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			err := watcher.Watch(ctx, func() {
				reloadRules(ctx, cfg, engines, build, collector, log)
			})
			if err != nil {
				log.Error("rule file watcher failed", "error", err)
			}
		}()
	}

	var subscriber *ingest.Subscriber
	if cfg.Ingest.NATS.Enabled {
		subscriber = ingest.NewSubscriber(cfg.Ingest.NATS, engines, collector, nil, logger.Slog())
		if err := subscriber.Start(ctx); err != nil {
			stop()
			watchers.Wait()
			_ = engines.Close(context.Background())
			return cli.NewCommandError("run", err)
		}
		checker.RegisterCheck("nats", subscriber.Check)
		fmt.Fprintf(out, "✓ NATS subscriber on %s\n", cfg.Ingest.NATS.Subject)
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Engines:  engines,
		Health:   checker,
		Version:  health.NewVersionInfo(Version, GitCommit, BuildDate),
		Metrics:  collector.Handler(),
		Observer: collector,
		Logger:   logger.Slog(),
	})

	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	serveErr := srv.Start(ctx)
	stop()
	watchers.Wait()

	// The HTTP server is down; nothing feeds the engine but NATS.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if subscriber != nil {
		if err := subscriber.Close(shutdownCtx); err != nil {
			log.Warn("NATS drain incomplete", "error", err)
		}
	}
	if err := engines.Close(shutdownCtx); err != nil {
		log.Error("engine shutdown incomplete", "error", err)
	}
	log.Info("notifier stopped", "deliveries_in_flight", dispatcher.InFlight())

	if serveErr != nil {
		return cli.NewCommandError("run", serveErr)
	}
	fmt.Fprintln(out, "✓ Notifier stopped")
	return nil
}

// reloadRules swaps in an engine for the current rule file. An invalid
// file leaves the running table in place.
func reloadRules(ctx context.Context, cfg *config.Config, engines *engine.Holder, build func(*rules.Table) *engine.Engine, collector *metrics.Collector, log *slog.Logger) {
	table, err := rules.LoadFile(cfg.Rules.FilePath)
	if err != nil {
		collector.RulesLoaded(0, err)
		log.Error("rule reload failed, keeping current table", "path", cfg.Rules.FilePath, "error", err)
		return
	}

	// The previous engine drains on its own deadline even when the reload
	// races shutdown.
	swapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := engines.Swap(swapCtx, build(table)); err != nil {
		if errors.Is(err, engine.ErrHolderClosed) {
			log.Info("rule reload skipped, notifier is shutting down", "path", cfg.Rules.FilePath)
			return
		}
		log.Warn("previous engine did not drain in time", "error", err)
	}
	collector.RulesLoaded(table.Len(), nil)
	log.Info("rule table reloaded",
		"rules", table.Len(),
		"swap_ms", time.Since(start).Milliseconds(),
	)
}

// openJournal opens the configured journal backend.
func openJournal(cfg *config.JournalConfig, logger *slog.Logger) (journal.Storage, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStorage(cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		return store, nil
	case "memory":
		return storage.NewMemoryStorage(), nil
	default:
		return nil, cli.NewConfigError("journal.backend", fmt.Sprintf("unsupported backend %q (sqlite, memory)", cfg.Backend))
	}
}
