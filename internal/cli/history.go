package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clrdiag/sostest/internal/history"
)

// HistoryOptions holds flags for the history commands.
type HistoryOptions struct {
	*RootOptions
	DB    string
	Limit int
}

// historyRun is the JSON shape of one archived run.
type historyRun struct {
	ID        string `json:"id"`
	StartedAt string `json:"started_at"`
	Assembly  string `json:"assembly"`
	Scenarios int    `json:"scenarios"`
}

// NewHistoryCommand creates the history command group for browsing
// archived run reports.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse archived run reports",
		Long: `List runs archived with "sostest run --archive", or render a single
archived report. Only suite counters are archived; failure context
stays in the per-scenario log files.

Examples:
  sostest history --db runs.db
  sostest history show 0190f3a2-... --db runs.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistory(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "runs.db", "history database path")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to list")

	show := &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Render one archived run report",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(opts, args[0], cmd)
		},
	}
	cmd.AddCommand(show)

	return cmd
}

func listHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	arch, err := history.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "open history database", err)
	}
	defer arch.Close()

	runs, err := arch.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "list runs", err)
	}

	if opts.Format == "json" {
		out := make([]historyRun, len(runs))
		for i, r := range runs {
			out[i] = historyRun{
				ID:        r.ID,
				StartedAt: r.StartedAt.Format(time.RFC3339),
				Assembly:  r.Assembly,
				Scenarios: r.Scenarios,
			}
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{
			Status: "ok",
			Data:   map[string]any{"runs": out},
		})
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No archived runs.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %s  (%d scenarios)\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Assembly, r.Scenarios)
	}
	return nil
}

func showHistory(opts *HistoryOptions, runID string, cmd *cobra.Command) error {
	arch, err := history.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "open history database", err)
	}
	defer arch.Close()

	rep, err := arch.GetReport(cmd.Context(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "load archived report", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: rep})
	}
	rep.Render(cmd.OutOrStdout())
	return nil
}
