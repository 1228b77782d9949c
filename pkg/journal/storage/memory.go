package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/notifier/pkg/journal"
)

// MemoryStorage implements journal.Storage using an in-memory map.
type MemoryStorage struct {
	records map[string]*journal.Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*journal.Record),
	}
}

// Store persists a copy of record.
func (s *MemoryStorage) Store(ctx context.Context, record *journal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *record
	s.records[record.ID] = &recordCopy
	return nil
}

// Query returns copies of the records matching q, ordered by FlushedAt.
func (s *MemoryStorage) Query(ctx context.Context, q *journal.Query) ([]*journal.Record, error) {
	if q == nil {
		q = &journal.Query{}
	}

	s.mu.RLock()
	results := []*journal.Record{}
	for _, record := range s.records {
		if matchesQuery(record, q) {
			recordCopy := *record
			results = append(results, &recordCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.FlushedAt.Equal(b.FlushedAt) {
			if q.Ascending {
				return a.FlushedAt.Before(b.FlushedAt)
			}
			return a.FlushedAt.After(b.FlushedAt)
		}
		if q.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	start := q.Offset
	if start > len(results) {
		return []*journal.Record{}, nil
	}
	limit := journal.DefaultQueryLimit
	if q.Limit > 0 {
		limit = q.Limit
	}
	end := start + limit
	if end > len(results) {
		end = len(results)
	}
	return results[start:end], nil
}

// Count returns the number of records matching q.
func (s *MemoryStorage) Count(ctx context.Context, q *journal.Query) (int64, error) {
	if q == nil {
		q = &journal.Query{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, record := range s.records {
		if matchesQuery(record, q) {
			count++
		}
	}
	return count, nil
}

// Delete removes records matching q.
func (s *MemoryStorage) Delete(ctx context.Context, q *journal.Query) (int64, error) {
	if q == nil {
		q = &journal.Query{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, record := range s.records {
		if matchesQuery(record, q) {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

// Ping always succeeds.
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close drops all records.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*journal.Record)
	return nil
}

func matchesQuery(record *journal.Record, q *journal.Query) bool {
	if q.RuleID != "" && record.RuleID != q.RuleID {
		return false
	}
	if q.Outcome != "" && record.Outcome != q.Outcome {
		return false
	}
	if q.Since != nil && record.FlushedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && record.FlushedAt.After(*q.Until) {
		return false
	}
	return true
}
