package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/config"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Delta notifier - rule-based change notifications for triple stores",
	Long: `Notifier receives changesets of triple statements, matches them against
a table of rules and delivers the matching statements to HTTP callbacks.

Per rule it provides:
  - Pattern matching on subject, predicate and object
  - Trailing-edge debounce of bursts into one batch
  - Suppression of changesets the notifier caused itself
  - Retried delivery in the v0.0.1 or genesis payload format`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the command's exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}

// loadConfig reads the config file with environment overrides. A missing
// file yields the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}
