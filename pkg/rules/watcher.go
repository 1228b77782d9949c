package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"
)

// Watcher reports changes to a rule file. It watches the parent directory
// so that editors replacing the file by rename, and symlink swaps of
// mounted configuration, are both seen.
type Watcher struct {
	path     string
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the rule file at path. Change
// notifications are delayed until debounce has passed without further
// events.
func NewWatcher(path string, debounce time.Duration, clk clock.Clock, logger *slog.Logger) *Watcher {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		clock:    clk,
		logger:   logger.With("component", "rules.watcher"),
	}
}

// Watch blocks until ctx is cancelled, calling onChange after each settled
// burst of file events. onChange runs on the watcher goroutine.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("rule file watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	var timer clock.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rule file watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("rule file event", "path", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = w.clock.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.Chan()

		case <-fire:
			fire = nil
			w.logger.Info("rule file changed", "path", w.path)
			onChange()

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("rule file watcher error", "error", err)
		}
	}
}

// relevant keeps writes, creates and renames touching the rule file or a
// Kubernetes-style ..data symlink in its directory.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == w.path || filepath.Base(name) == "..data"
}
