package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/engine"
	"mercator-hq/notifier/pkg/rules"
)

var matchFlags struct {
	rules          string
	changeset      string
	mu             bool
	origin         string
	identity       string
	byCallbackHost bool
	format         string
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Show which rules a changeset would fire",
	Long: `Evaluate changesets against a rule file without delivering anything.

The changeset file holds native changesets, as accepted on POST /changesets,
or with --mu a mu-style delta body as accepted on POST /delta. Use "-" to
read from stdin. No debounce windows are opened and no callbacks are called.

Examples:
  # Native changesets
  notifier match --rules rules.yaml --changeset changeset.json

  # mu-style delta body, as if sent by the notifier itself
  notifier match --rules rules.yaml --changeset delta.json --mu \
    --origin http://notifier --identity http://notifier`,
	RunE: matchChangesets,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVarP(&matchFlags.rules, "rules", "r", "", "rule file (default: rules.file_path from config)")
	matchCmd.Flags().StringVar(&matchFlags.changeset, "changeset", "-", "changeset file, or - for stdin")
	matchCmd.Flags().BoolVar(&matchFlags.mu, "mu", false, "input is a mu-style delta body")
	matchCmd.Flags().StringVar(&matchFlags.origin, "origin", "", "origin for changesets that carry none")
	matchCmd.Flags().StringVar(&matchFlags.identity, "identity", "", "notifier identity for self-origin filtering (default: engine.identity from config)")
	matchCmd.Flags().BoolVar(&matchFlags.byCallbackHost, "by-callback-host", false, "also treat an origin equal to the callback host as self")
	matchCmd.Flags().StringVar(&matchFlags.format, "format", "text", "output format: text, json, csv")
}

// MatchResult is the outcome of one changeset against one rule.
type MatchResult struct {
	Changeset  int               `json:"changeset"`
	Origin     string            `json:"origin,omitempty"`
	Direction  delta.Direction   `json:"direction"`
	RuleID     string            `json:"rule"`
	Result     string            `json:"result"`
	Statements []delta.Statement `json:"statements,omitempty"`
}

type matchReport []MatchResult

func (m matchReport) Header() []string {
	return []string{"CHANGESET", "DIRECTION", "ORIGIN", "RULE", "RESULT", "STATEMENTS"}
}

func (m matchReport) Rows() [][]string {
	rows := make([][]string, 0, len(m))
	for _, r := range m {
		rows = append(rows, []string{
			strconv.Itoa(r.Changeset),
			string(r.Direction),
			r.Origin,
			r.RuleID,
			r.Result,
			strconv.Itoa(len(r.Statements)),
		})
	}
	return rows
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func matchChangesets(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(matchFlags.format)
	if err != nil {
		return err
	}

	rulesFile, identity := matchFlags.rules, matchFlags.identity
	if rulesFile == "" || identity == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if rulesFile == "" {
			rulesFile = cfg.Rules.FilePath
		}
		if identity == "" {
			identity = cfg.Engine.Identity
		}
	}

	table, err := rules.LoadFile(rulesFile)
	if err != nil {
		return cli.NewConfigError(rulesFile, err.Error())
	}

	data, err := readInput(matchFlags.changeset, cmd.InOrStdin())
	if err != nil {
		return cli.NewCommandError("match", fmt.Errorf("failed to read changeset: %w", err))
	}

	var sets []*delta.Changeset
	if matchFlags.mu {
		sets, err = delta.DecodeMu(data, matchFlags.origin)
	} else {
		sets, err = delta.DecodeNative(data)
	}
	if err != nil {
		return cli.NewConfigError("changeset", err.Error())
	}

	eng := engine.New(table, nil, engine.Options{
		Filter: engine.OriginFilter{
			Identity:               identity,
			IdentifyByCallbackHost: matchFlags.byCallbackHost,
		},
	})
	defer eng.Close(context.Background())

	report := matchReport{}
	for i, cs := range sets {
		if cs.Origin == "" {
			cs.Origin = matchFlags.origin
		}
		for _, m := range eng.Evaluate(cs) {
			res := MatchResult{
				Changeset:  i,
				Origin:     cs.Origin,
				Direction:  cs.Direction,
				RuleID:     m.RuleID,
				Statements: m.Statements,
			}
			switch {
			case m.Ignored:
				res.Result = "ignored"
			case len(m.Statements) > 0:
				res.Result = "match"
			default:
				res.Result = "no match"
			}
			report = append(report, res)
		}
	}

	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), []MatchResult(report))
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report)
}
