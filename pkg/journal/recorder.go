package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig contains configuration for the journal recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds each storage write, and how long Record waits for
	// buffer space before dropping a record.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// WriteObserver is notified of every storage write.
type WriteObserver interface {
	RecordJournalWrite(err error)
}

// Recorder writes journal records asynchronously.
type Recorder struct {
	storage    Storage
	config     *RecorderConfig
	observer   WriteObserver
	recordChan chan *Record
	done       chan struct{}
	wg         sync.WaitGroup
	logger     *slog.Logger

	// mu guards closed; senders hold the read lock so that Close never
	// closes done while a send is being decided.
	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder writing to storage. observer may be nil.
func NewRecorder(storage Storage, config *RecorderConfig, observer WriteObserver, logger *slog.Logger) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultRecorderConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultRecorderConfig().WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		observer:   observer,
		recordChan: make(chan *Record, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     logger.With("component", "journal.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("journal recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// Record enqueues a record for writing. It returns immediately unless the
// buffer is full, in which case it waits up to WriteTimeout and then drops
// the record.
func (r *Recorder) Record(record *Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRecorderClosed
	}

	select {
	case r.recordChan <- record:
		return nil
	default:
	}

	t := time.NewTimer(r.config.WriteTimeout)
	defer t.Stop()

	select {
	case r.recordChan <- record:
		return nil
	case <-t.C:
		r.logger.Error("journal channel full, dropping record",
			"delivery_id", record.ID,
			"rule_id", record.RuleID,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return NewStorageError("recorder", "enqueue", context.DeadlineExceeded)
	}
}

// Close stops accepting records, drains the buffer and waits for the last
// write to finish. It does not close the storage.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("journal recorder shut down")
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.writeRecord(record)

		case <-r.done:
			r.logger.Info("draining journal channel before shutdown",
				"pending_count", len(r.recordChan),
			)
			for {
				select {
				case record := <-r.recordChan:
					r.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeRecord(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := r.storage.Store(ctx, record)
	if r.observer != nil {
		r.observer.RecordJournalWrite(err)
	}
	if err != nil {
		r.logger.Error("failed to store journal record",
			"delivery_id", record.ID,
			"rule_id", record.RuleID,
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	r.logger.Debug("delivery journaled",
		"delivery_id", record.ID,
		"rule_id", record.RuleID,
		"outcome", record.Outcome,
		"duration_ms", duration.Milliseconds(),
	)

	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow journal write",
			"delivery_id", record.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
