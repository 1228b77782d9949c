package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/journal"
)

// PruneObserver is notified after every pruning run that deleted records.
type PruneObserver interface {
	RecordJournalPrune(deleted int64)
}

// Pruner enforces retention policies on journal records.
type Pruner struct {
	storage   journal.Storage
	config    config.RetentionConfig
	clock     clock.Clock
	observer  PruneObserver
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a pruner. clk and observer may be nil.
func NewPruner(storage journal.Storage, cfg config.RetentionConfig, clk clock.Clock, observer PruneObserver, logger *slog.Logger) *Pruner {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pruner{
		storage:  storage,
		config:   cfg,
		clock:    clk,
		observer: observer,
		logger:   logger.With("component", "journal.retention"),
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Prune deletes records older than the retention period, then the oldest
// records above MaxRecords. It returns the total number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var totalDeleted int64

	if p.config.Days > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return totalDeleted, fmt.Errorf("prune by age failed: %w", err)
		}
		totalDeleted += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return totalDeleted, fmt.Errorf("prune by count failed: %w", err)
		}
		totalDeleted += deleted
	}

	if totalDeleted == 0 {
		p.logger.Debug("no journal records pruned",
			"retention_days", p.config.Days,
			"max_records", p.config.MaxRecords,
		)
		return 0, nil
	}

	if p.observer != nil {
		p.observer.RecordJournalPrune(totalDeleted)
	}
	p.logger.Info("journal pruning completed",
		"total_deleted", totalDeleted,
		"retention_days", p.config.Days,
		"max_records", p.config.MaxRecords,
	)
	return totalDeleted, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().AddDate(0, 0, -p.config.Days)

	p.logger.Debug("pruning by age", "cutoff_time", cutoff)

	deleted, err := p.storage.Delete(ctx, &journal.Query{Until: &cutoff})
	if err != nil {
		return 0, journal.NewRetentionError(p.config.Days, err)
	}
	return deleted, nil
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	if count <= p.config.MaxRecords {
		return 0, nil
	}

	toDelete := count - p.config.MaxRecords
	p.logger.Info("journal exceeds record cap, pruning oldest",
		"current_count", count,
		"max_records", p.config.MaxRecords,
		"to_delete", toDelete,
	)

	oldest, err := p.storage.Query(ctx, &journal.Query{Ascending: true, Limit: int(toDelete)})
	if err != nil {
		return 0, fmt.Errorf("failed to query records: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	// Records sharing the cutoff timestamp go together.
	cutoff := oldest[len(oldest)-1].FlushedAt
	deleted, err := p.storage.Delete(ctx, &journal.Query{Until: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	return deleted, nil
}

// Start starts scheduled pruning. It stops when ctx is done.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops scheduled pruning and waits for a running prune.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled run, or nil.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
