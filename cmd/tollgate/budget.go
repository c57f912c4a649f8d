package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/ledger/storage"
)

var budgetFlags struct {
	from    string
	to      string
	groupBy string
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect budgets in the configured store",
	Long: `Inspect budgets directly in the configured storage.

Only persistent backends can be inspected offline; the memory backend
lives inside the running service.`,
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status <budget-id>",
	Short: "Show the current status of a budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetStatus,
}

var budgetReportCmd = &cobra.Command{
	Use:   "report <budget-id>",
	Short: "Summarize usage of a budget",
	Long: `Summarize recorded usage of a budget over a time range.

Examples:
  # Daily breakdown of the current period
  tollgate budget report team-a

  # Per-model spend for March as CSV
  tollgate budget report team-a --from 2026-03-01T00:00:00Z \
    --to 2026-04-01T00:00:00Z --group-by model -o csv`,
	Args: cobra.ExactArgs(1),
	RunE: runBudgetReport,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetStatusCmd)
	budgetCmd.AddCommand(budgetReportCmd)

	budgetReportCmd.Flags().StringVar(&budgetFlags.from, "from", "", "range start (RFC3339, default current period start)")
	budgetReportCmd.Flags().StringVar(&budgetFlags.to, "to", "", "range end, exclusive (RFC3339, default now)")
	budgetReportCmd.Flags().StringVar(&budgetFlags.groupBy, "group-by", "day", "grouping (day, week, month, model, user, team, project, task)")
}

// openLedger opens the configured persistent store. The caller closes the
// returned repository.
func openLedger() (*ledger.Ledger, ledger.Repository, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	if cfg.Storage.Backend != storage.BackendSQLite {
		return nil, nil, cli.NewConfigError("storage.backend",
			fmt.Sprintf("%q cannot be inspected offline, use the HTTP API", cfg.Storage.Backend))
	}
	repo, _, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, nil, cli.NewCommandError("budget", err)
	}
	return ledger.New(repo), repo, nil
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	l, repo, err := openLedger()
	if err != nil {
		return err
	}
	defer repo.Close()

	st, err := l.Status(cmd.Context(), args[0])
	if err != nil {
		return cli.NewCommandError("budget status", err)
	}
	return f.FormatTo(cmd.OutOrStdout(), statusTable(st))
}

func runBudgetReport(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	from, err := parseFlagTime("from", budgetFlags.from)
	if err != nil {
		return err
	}
	to, err := parseFlagTime("to", budgetFlags.to)
	if err != nil {
		return err
	}

	l, repo, err := openLedger()
	if err != nil {
		return err
	}
	defer repo.Close()

	report, err := l.Report(cmd.Context(), args[0], from, to, ledger.GroupBy(budgetFlags.groupBy))
	if err != nil {
		return cli.NewCommandError("budget report", err)
	}
	return f.FormatTo(cmd.OutOrStdout(), reportTable(report))
}

func parseFlagTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, cli.NewConfigError(name, fmt.Sprintf("%q is not an RFC3339 timestamp", value))
	}
	return t, nil
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func statusTable(st ledger.BudgetStatus) *cli.Table {
	t := &cli.Table{Headers: []string{"BUDGET", "STATUS", "SPENT", "LIMIT", "USED%", "REMAINING", "BURN/DAY", "PROJECTED", "DAYS LEFT", "CURRENCY"}}
	t.Append(
		st.BudgetID,
		string(st.Level),
		money(st.CurrentAmount),
		money(st.Limit),
		strconv.FormatFloat(st.PercentUsed, 'f', 1, 64),
		money(st.Remaining),
		money(st.BurnRate),
		money(st.ProjectedTotal),
		strconv.Itoa(st.DaysRemaining),
		st.Currency,
	)
	return t
}

func reportTable(r ledger.Report) *cli.Table {
	t := &cli.Table{Headers: []string{strings.ToUpper(string(r.GroupBy)), "AMOUNT", "COUNT", "SHARE%"}}
	for _, g := range r.Groups {
		t.Append(g.Key, money(g.Amount), strconv.Itoa(g.Count), strconv.FormatFloat(g.Percentage, 'f', 1, 64))
	}
	t.Append("TOTAL", money(r.Total), strconv.Itoa(r.Count), "100.0")
	return t
}
