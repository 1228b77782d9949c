package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/journal"
	"mercator-hq/notifier/pkg/journal/retention"
)

var journalFlags struct {
	rule       string
	outcome    string
	since      string
	until      string
	limit      int
	offset     int
	format     string
	days       int
	maxRecords int64
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the delivery journal",
	Long: `Query and prune the delivery journal.

Every batch the notifier delivers, or gives up on, is recorded with its
rule, callback, attempt count, final status and error.

Subcommands:
  query - List deliveries with filters
  prune - Apply the retention policy now`,
}

var journalQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query delivery records",
	Long: `Query delivery records, newest first.

Time bounds accept RFC3339 timestamps or a duration relative to now.

Examples:
  # Failed deliveries in the last hour
  notifier journal query --outcome failed --since 1h

  # One rule, as JSON
  notifier journal query --rule search-catch-all --format json`,
	RunE: queryJournal,
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records outside the retention policy",
	Long: `Delete journal records older than the retention period, then the oldest
records beyond the record cap.

Examples:
  # Use journal.retention from config
  notifier journal prune

  # Keep one week
  notifier journal prune --days 7`,
	RunE: pruneJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalQueryCmd, journalPruneCmd)

	journalQueryCmd.Flags().StringVar(&journalFlags.rule, "rule", "", "filter by rule ID")
	journalQueryCmd.Flags().StringVar(&journalFlags.outcome, "outcome", "", "filter by outcome (success, failed, cancelled)")
	journalQueryCmd.Flags().StringVar(&journalFlags.since, "since", "", "only records flushed at or after (RFC3339 or duration, e.g. 24h)")
	journalQueryCmd.Flags().StringVar(&journalFlags.until, "until", "", "only records flushed at or before (RFC3339 or duration)")
	journalQueryCmd.Flags().IntVar(&journalFlags.limit, "limit", journal.DefaultQueryLimit, "max results")
	journalQueryCmd.Flags().IntVar(&journalFlags.offset, "offset", 0, "pagination offset")
	journalQueryCmd.Flags().StringVar(&journalFlags.format, "format", "text", "output format: text, json, csv")

	journalPruneCmd.Flags().IntVar(&journalFlags.days, "days", -1, "override journal.retention.days")
	journalPruneCmd.Flags().Int64Var(&journalFlags.maxRecords, "max-records", -1, "override journal.retention.max_records")
}

// parseTimeBound accepts an RFC3339 timestamp or a duration before now.
func parseTimeBound(flag, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		t := now.Add(-d)
		return &t, nil
	}
	return nil, cli.NewConfigError(flag, fmt.Sprintf("invalid time %q: want RFC3339 or a duration", value))
}

func parseOutcome(value string) (journal.Outcome, error) {
	switch o := journal.Outcome(value); o {
	case "", journal.OutcomeSuccess, journal.OutcomeFailed, journal.OutcomeCancelled:
		return o, nil
	default:
		return "", cli.NewConfigError("outcome", fmt.Sprintf("unknown outcome %q", value))
	}
}

// recordList renders journal records for text and CSV output.
type recordList []*journal.Record

func (l recordList) Header() []string {
	return []string{"FLUSHED_AT", "ID", "RULE", "OUTCOME", "STATUS", "ATTEMPTS", "STATEMENTS", "DURATION", "ERROR"}
}

func (l recordList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		status := "-"
		if r.StatusCode != 0 {
			status = strconv.Itoa(r.StatusCode)
		}
		rows = append(rows, []string{
			r.FlushedAt.UTC().Format(time.RFC3339),
			r.ID,
			r.RuleID,
			string(r.Outcome),
			status,
			strconv.Itoa(r.Attempts),
			strconv.Itoa(r.Statements),
			r.Duration().Round(time.Millisecond).String(),
			r.Error,
		})
	}
	return rows
}

func queryJournal(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(journalFlags.format)
	if err != nil {
		return err
	}
	outcome, err := parseOutcome(journalFlags.outcome)
	if err != nil {
		return err
	}

	now := time.Now()
	since, err := parseTimeBound("since", journalFlags.since, now)
	if err != nil {
		return err
	}
	until, err := parseTimeBound("until", journalFlags.until, now)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openJournal(&cfg.Journal, nil)
	if err != nil {
		return cli.NewCommandError("journal", err)
	}
	defer store.Close()

	records, err := store.Query(cmd.Context(), &journal.Query{
		RuleID:  journalFlags.rule,
		Outcome: outcome,
		Since:   since,
		Until:   until,
		Limit:   journalFlags.limit,
		Offset:  journalFlags.offset,
	})
	if err != nil {
		return cli.NewCommandError("journal", err)
	}

	if format == cli.FormatJSON {
		if records == nil {
			records = []*journal.Record{}
		}
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), records)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), recordList(records))
}

func pruneJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy := cfg.Journal.Retention
	if journalFlags.days >= 0 {
		policy.Days = journalFlags.days
	}
	if journalFlags.maxRecords >= 0 {
		policy.MaxRecords = journalFlags.maxRecords
	}

	store, err := openJournal(&cfg.Journal, nil)
	if err != nil {
		return cli.NewCommandError("journal", err)
	}
	defer store.Close()

	deleted, err := retention.NewPruner(store, policy, nil, nil, nil).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("journal", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d records (retention: %d days, max records: %d)\n",
		deleted, policy.Days, policy.MaxRecords)
	return nil
}
