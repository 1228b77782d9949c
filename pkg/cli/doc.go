/*
Package cli provides helpers shared by the notifier commands.

Output Formatting:

Results that implement Table render as an aligned text table, CSV, or JSON:

	format, err := cli.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, result); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit codes: 2 for invalid
configuration or input, 1 for any other failure.
*/
package cli
