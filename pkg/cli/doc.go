/*
Package cli provides command-line helpers for the governor command.

Output Formatting:

Command results can be printed as text, JSON or YAML:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, decision); err != nil {
		return err
	}

The text formatter prints values implementing fmt.Stringer through String
and everything else with %v.

Errors:

ConfigError and CommandError carry the failing field or command. ExitCode
maps an error returned by a command onto the process exit status.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
