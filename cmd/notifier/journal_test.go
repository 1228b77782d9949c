package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/config"
	"mercator-hq/notifier/pkg/journal"
	"mercator-hq/notifier/pkg/journal/storage"
)

// seedJournal writes a config file pointing at a fresh SQLite journal and
// stores records in it. It returns the config path.
func seedJournal(t *testing.T, records ...*journal.Record) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")

	sqliteCfg := config.New().Journal.SQLite
	sqliteCfg.Path = dbPath
	store, err := storage.NewSQLiteStorage(sqliteCfg, nil)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	for _, r := range records {
		if err := store.Store(context.Background(), r); err != nil {
			t.Fatalf("failed to store record %s: %v", r.ID, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close journal: %v", err)
	}

	return writeFile(t, "config.yaml", fmt.Sprintf(`
journal:
  enabled: true
  backend: sqlite
  sqlite:
    path: %q
  retention:
    days: 30
`, dbPath))
}

func testRecord(id, ruleID string, outcome journal.Outcome, flushedAt time.Time) *journal.Record {
	r := &journal.Record{
		ID:             id,
		RuleID:         ruleID,
		CallbackURL:    "http://search:8080/update",
		Method:         "POST",
		ResourceFormat: "v0.0.1",
		Statements:     3,
		Changesets:     1,
		FlushReason:    "quiet",
		OpenedAt:       flushedAt.Add(-time.Second),
		FlushedAt:      flushedAt,
		StartedAt:      flushedAt,
		FinishedAt:     flushedAt.Add(20 * time.Millisecond),
		Attempts:       1,
		StatusCode:     204,
		Outcome:        outcome,
	}
	if outcome == journal.OutcomeFailed {
		r.Attempts = 4
		r.StatusCode = 503
		r.Error = "callback returned 503"
	}
	return r
}

func TestJournalQuery(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	cfgPath := seedJournal(t,
		testRecord("d-1", "books", journal.OutcomeSuccess, now.Add(-2*time.Minute)),
		testRecord("d-2", "books", journal.OutcomeFailed, now.Add(-time.Minute)),
		testRecord("d-3", "everything", journal.OutcomeSuccess, now.Add(-48*time.Hour)),
	)

	t.Run("all records newest first", func(t *testing.T) {
		out, err := execute(t, nil, "journal", "query", "--config", cfgPath, "--format", "json")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		var got []*journal.Record
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 records, got %d", len(got))
		}
		if got[0].ID != "d-2" || got[2].ID != "d-3" {
			t.Errorf("unexpected order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
		}
	})

	t.Run("filter by outcome", func(t *testing.T) {
		out, err := execute(t, nil, "journal", "query", "--config", cfgPath, "--outcome", "failed", "--format", "json")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		var got []*journal.Record
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if len(got) != 1 || got[0].ID != "d-2" || got[0].Error == "" {
			t.Errorf("unexpected records: %+v", got)
		}
	})

	t.Run("since duration", func(t *testing.T) {
		out, err := execute(t, nil, "journal", "query", "--config", cfgPath, "--since", "1h")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if !strings.Contains(out, "d-1") || !strings.Contains(out, "d-2") {
			t.Errorf("recent records missing:\n%s", out)
		}
		if strings.Contains(out, "d-3") {
			t.Errorf("old record should be excluded:\n%s", out)
		}
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		out, err := execute(t, nil, "journal", "query", "--config", cfgPath, "--rule", "unknown", "--format", "json")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if strings.TrimSpace(out) != "[]" {
			t.Errorf("expected [], got %q", out)
		}
	})

	t.Run("invalid outcome", func(t *testing.T) {
		_, err := execute(t, nil, "journal", "query", "--config", cfgPath, "--outcome", "lost")
		if cli.ExitCode(err) != cli.ExitInvalid {
			t.Errorf("expected invalid-input exit code, got %v", err)
		}
	})
}

func TestJournalPrune(t *testing.T) {
	now := time.Now().UTC()
	cfgPath := seedJournal(t,
		testRecord("fresh-1", "books", journal.OutcomeSuccess, now.Add(-time.Hour)),
		testRecord("fresh-2", "books", journal.OutcomeSuccess, now.Add(-2*time.Hour)),
		testRecord("stale", "books", journal.OutcomeSuccess, now.AddDate(0, 0, -60)),
	)

	out, err := execute(t, nil, "journal", "prune", "--config", cfgPath)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 records") || !strings.Contains(out, "30 days") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = execute(t, nil, "journal", "prune", "--config", cfgPath, "--max-records", "1")
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 records") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = execute(t, nil, "journal", "query", "--config", cfgPath, "--format", "json")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	var got []*journal.Record
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh-1" {
		t.Errorf("expected only fresh-1 to survive, got %+v", got)
	}
}

func TestParseTimeBound(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    *time.Time
		wantErr bool
	}{
		{value: ""},
		{value: "2026-02-28T08:30:00Z", want: ptrTime(time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC))},
		{value: "90m", want: ptrTime(now.Add(-90 * time.Minute))},
		{value: "-1h", wantErr: true},
		{value: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseTimeBound("since", tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				return
			}
			if got == nil || !got.Equal(*tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
