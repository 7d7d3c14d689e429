package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clrdiag/sostest/internal/scenario"
)

// NewScenariosCommand creates the scenarios command: list the registry.
func NewScenariosCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scenarios",
		Short:         "List registered scenarios",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := scenario.Default().Names()

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), CLIResponse{
					Status: "ok",
					Data:   map[string]any{"scenarios": names},
				})
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	return cmd
}
