package cli

import (
	"github.com/spf13/cobra"

	"github.com/clrdiag/sostest/internal/assert"
	"github.com/clrdiag/sostest/internal/dbg"
	"github.com/clrdiag/sostest/internal/scenario"
	"github.com/clrdiag/sostest/internal/sentinel"
	"github.com/clrdiag/sostest/internal/session"
)

// SessionOptions holds flags for the hidden session command.
type SessionOptions struct {
	*RootOptions
	Scenario        string
	Assembly        string
	LLDB            string
	Runner          string
	Plugin          string
	WorkDir         string
	BootstrapSymbol string
}

// NewSessionCommand creates the session command: the in-session
// controller entry point the driver launches, one process per scenario.
// Hidden because users run `sostest run`; this exists to be re-exec'd.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "session",
		Short:         "Run one scenario inside a debugger session (internal)",
		Hidden:        true,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "scenario name to execute")
	cmd.Flags().StringVar(&opts.Assembly, "assembly", "", "target assembly path")
	cmd.Flags().StringVar(&opts.LLDB, "lldb", "lldb", "lldb binary path")
	cmd.Flags().StringVar(&opts.Runner, "runner", "", "debuggee runner binary")
	cmd.Flags().StringVar(&opts.Plugin, "plugin", "", "SOS plugin artifact to load")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", ".", "working directory for sentinel files")
	cmd.Flags().StringVar(&opts.BootstrapSymbol, "bootstrap-symbol", "", "runtime-loader symbol")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("assembly")

	return cmd
}

func runSession(opts *SessionOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	store := sentinel.New(opts.WorkDir)

	// Fatal assertions abort this whole process (default os.Exit hook):
	// once debuggee state is untrustworthy, the driver's flag inspection
	// is the only reliable verdict and hanging here only burns timeout.
	t := assert.NewContext(store, logger)

	client, err := dbg.StartLLDB(ctx, dbg.LLDBOptions{
		Path:     opts.LLDB,
		Plugin:   opts.Plugin,
		Runner:   opts.Runner,
		Assembly: opts.Assembly,
		Logger:   logger,
	})
	if err != nil {
		// The flags were never raised, so the driver would read this as
		// a pass; raise them before reporting the startup failure.
		store.Raise()
		store.RaiseEngine()
		return WrapExitError(ExitCommandError, "start debugger", err)
	}
	defer client.Close()

	ctrl := session.NewController(client, store, t, scenario.Default(), logger, opts.BootstrapSymbol)
	if err := ctrl.Run(ctx, opts.Assembly, opts.Scenario); err != nil {
		return WrapExitError(ExitCommandError, "session failed", err)
	}
	return nil
}
