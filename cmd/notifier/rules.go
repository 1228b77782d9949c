package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
	"mercator-hq/notifier/pkg/server"
)

var rulesFlags struct {
	file   string
	format string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect rule files",
	Long: `Validate and list rule files.

Subcommands:
  validate - Check a rule file and report every problem
  list     - Print the rules of a valid file

Without --file, the rule file named in the configuration is used.`,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a rule file",
	Long: `Validate a rule file. All problems are reported at once; the exit code
is 2 when the file is invalid.

Examples:
  notifier rules validate --file rules.yaml`,
	RunE: validateRules,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules of a rule file",
	Long: `List the rules of a rule file.

Examples:
  notifier rules list --file rules.yaml
  notifier rules list --file rules.yaml --format json`,
	RunE: listRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd, rulesListCmd)

	rulesCmd.PersistentFlags().StringVarP(&rulesFlags.file, "file", "f", "", "rule file (default: rules.file_path from config)")
	rulesListCmd.Flags().StringVar(&rulesFlags.format, "format", "text", "output format: text, json, csv")
}

func rulesPath() (string, error) {
	if rulesFlags.file != "" {
		return rulesFlags.file, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Rules.FilePath, nil
}

func validateRules(cmd *cobra.Command, args []string) error {
	path, err := rulesPath()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	table, err := rules.LoadFile(path)
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "✗ %s: %d problems\n", path, len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "  - %s\n", fe.Error())
			}
			return cli.NewConfigError(path, "rule file is invalid")
		}
		return cli.NewConfigError(path, err.Error())
	}

	fmt.Fprintf(out, "✓ %s: %d rules valid\n", path, table.Len())
	return nil
}

// ruleList renders rules for text and CSV output.
type ruleList []server.RuleView

func (l ruleList) Header() []string {
	return []string{"ID", "METHOD", "CALLBACK", "FORMAT", "GRACE_MS", "IGNORE_SELF", "RETRY", "MATCH"}
}

func (l ruleList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		retry := "default"
		if r.Options.Retry != nil {
			retry = strconv.Itoa(*r.Options.Retry)
		}
		rows = append(rows, []string{
			r.ID,
			r.Callback.Method,
			r.Callback.URL,
			string(r.Options.ResourceFormat),
			strconv.FormatInt(r.Options.GracePeriod, 10),
			strconv.FormatBool(r.Options.IgnoreFromSelf),
			retry,
			patternString(r.Match),
		})
	}
	return rows
}

func patternString(p rules.Pattern) string {
	if p.IsCatchAll() {
		return "*"
	}
	return fmt.Sprintf("%s %s %s", termOrAny(p.Subject), termOrAny(p.Predicate), termOrAny(p.Object))
}

func termOrAny(t *delta.Term) string {
	if t == nil {
		return "?"
	}
	return t.String()
}

func listRules(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(rulesFlags.format)
	if err != nil {
		return err
	}
	path, err := rulesPath()
	if err != nil {
		return err
	}

	table, err := rules.LoadFile(path)
	if err != nil {
		return cli.NewConfigError(path, err.Error())
	}

	views := ruleList(server.NewRuleViews(table, nil, nil))
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), []server.RuleView(views))
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), views)
}
