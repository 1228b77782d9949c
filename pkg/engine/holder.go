package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"mercator-hq/notifier/pkg/delta"
)

// ErrNoEngine is returned by Holder.IngestAll when no engine is published,
// either before the first rule table loads or after Close.
var ErrNoEngine = errors.New("no rule table loaded")

// ErrHolderClosed is returned by Swap after Close.
var ErrHolderClosed = errors.New("engine holder closed")

// Holder publishes the current engine to ingest paths. Reloading the rule
// table builds a new engine and swaps it in; the previous engine is then
// closed, which flushes its open windows under its own rule table.
//
// Ingest goes through IngestAll, which holds a read lock for the duration
// of the call. Swap takes the write lock only to replace the pointer, so a
// changeset is always evaluated by an engine that is still open.
type Holder struct {
	mu      sync.RWMutex
	current atomic.Pointer[Engine]
	closed  bool
}

// NewHolder returns a holder publishing e.
func NewHolder(e *Engine) *Holder {
	h := &Holder{}
	h.current.Store(e)
	return h
}

// Load returns the current engine, or nil before one is published. Use it
// for read-only views; ingest through IngestAll.
func (h *Holder) Load() *Engine {
	return h.current.Load()
}

// IngestAll feeds sets to the current engine.
func (h *Holder) IngestAll(ctx context.Context, sets []*delta.Changeset) (IngestResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e := h.current.Load()
	if e == nil {
		return IngestResult{}, ErrNoEngine
	}
	return e.IngestAll(ctx, sets), nil
}

// Swap publishes next and closes the engine it replaces. After Close, next
// is closed immediately and never published.
func (h *Holder) Swap(ctx context.Context, next *Engine) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if err := next.Close(ctx); err != nil {
			return err
		}
		return ErrHolderClosed
	}
	prev := h.current.Swap(next)
	h.mu.Unlock()

	if prev == nil || prev == next {
		return nil
	}
	return prev.Close(ctx)
}

// Close unpublishes the current engine and closes it. Later ingests get
// ErrNoEngine and later swaps are refused.
func (h *Holder) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	prev := h.current.Swap(nil)
	h.mu.Unlock()

	if prev == nil {
		return nil
	}
	return prev.Close(ctx)
}
