/*
Package cli provides helpers shared by the tollgate commands: output
formatting, command errors with exit codes, and signal handling.

Output Formatting:

Commands print either a Table or any JSON-encodable value. Tables render
as aligned text, CSV or JSON:

	table := &cli.Table{Headers: []string{"BUDGET", "USED"}}
	table.Append("team-a", "42.0%")
	if err := cli.NewFormatter(cli.FormatCSV).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Exit Codes:

ExitCode maps an error to the process exit status: 2 for configuration and
validation errors, 3 for missing resources, 4 when a dependency is
unavailable, 1 otherwise.

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
