package retention

import (
	"context"
	"testing"
	"time"

	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/journal/storage"
)

func TestScheduler_StartStop(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), config.RetentionConfig{Days: 30, PruneSchedule: "0 3 * * *"}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !p.scheduler.IsRunning() {
		t.Fatal("scheduler not running after Start")
	}

	next := p.NextPruning()
	if next == nil {
		t.Fatal("NextPruning() = nil")
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("NextPruning() = %v, want 03:00", next)
	}
	if !next.After(time.Now()) {
		t.Errorf("NextPruning() = %v is in the past", next)
	}

	p.Stop()
	if p.scheduler.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
	if p.NextPruning() != nil {
		t.Error("NextPruning() should be nil once stopped")
	}
}

func TestScheduler_StopsWithContext(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), config.RetentionConfig{PruneSchedule: "*/5 * * * *"}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for p.scheduler.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not stop after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_EmptySchedule(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), config.RetentionConfig{Days: 30}, nil, nil, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if p.scheduler.IsRunning() {
		t.Error("scheduler should not run without a schedule")
	}
	p.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), config.RetentionConfig{PruneSchedule: "every night"}, nil, nil, nil)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if p.scheduler.IsRunning() {
		t.Error("scheduler should not run after a failed Start")
	}
}
