package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/clrdiag/sostest/internal/report"
	"github.com/clrdiag/sostest/internal/sentinel"
)

// NewReportCommand creates the report command: render a report from an
// existing summary log without running anything.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [summary-file]",
		Short: "Render a report from a summary log",
		Long: `Parse a summary log left behind by a previous run and print the
per-suite report. Defaults to the "summary" file in the current
directory.

Examples:
  sostest report
  sostest report /var/tmp/soshar/summary
  sostest report --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := sentinel.SummaryName
			if len(args) == 1 {
				path = args[0]
			}

			f, err := os.Open(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "open summary log", err)
			}
			defer f.Close()

			rep, err := report.Parse(f)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse summary log", err)
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: rep})
			}
			rep.Render(cmd.OutOrStdout())
			return nil
		},
	}
	return cmd
}
