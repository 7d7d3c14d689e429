package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clrdiag/sostest/internal/config"
	"github.com/clrdiag/sostest/internal/driver"
	"github.com/clrdiag/sostest/internal/history"
	"github.com/clrdiag/sostest/internal/report"
	"github.com/clrdiag/sostest/internal/scenario"
	"github.com/clrdiag/sostest/internal/sentinel"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath      string
	LLDB            string
	Runner          string
	Plugin          string
	Assembly        string
	WorkDir         string
	BootstrapSymbol string
	Timeout         int
	Archive         string
}

// runResult is the run command's JSON payload.
type runResult struct {
	Passed int            `json:"passed"`
	Failed int            `json:"failed"`
	Total  int            `json:"total"`
	Report *report.Report `json:"report"`
	RunID  string         `json:"run_id,omitempty"`
}

// NewRunCommand creates the run command: the outer harness driver.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [scenarios...]",
		Short: "Run scenarios, one debugger session each",
		Long: `Run the named scenarios (default: all registered), launching one lldb
session process per scenario under a wall-clock deadline. The verdict
for each scenario comes from the sentinel fail flags, not from the
session's exit status, so crashed or killed sessions report as failures.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad configuration, unknown scenario, ...)

Examples:
  sostest run
  sostest run t_cmd_bpmd t_cmd_clrstack
  sostest run --config harness.yaml --timeout 60
  sostest run --archive runs.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarness(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&opts.LLDB, "lldb", "", "lldb binary path")
	cmd.Flags().StringVar(&opts.Runner, "runner", "", "debuggee runner binary (corerun)")
	cmd.Flags().StringVar(&opts.Plugin, "plugin", "", "SOS plugin artifact to load")
	cmd.Flags().StringVar(&opts.Assembly, "assembly", "", "target assembly path")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "working directory for logs and sentinel files")
	cmd.Flags().StringVar(&opts.BootstrapSymbol, "bootstrap-symbol", "", "runtime-loader symbol for the bootstrap breakpoint")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", 0, "per-scenario timeout in seconds")
	cmd.Flags().StringVar(&opts.Archive, "archive", "", "SQLite database to archive the run report into")

	return cmd
}

func runHarness(opts *RunOptions, args []string, cmd *cobra.Command) error {
	cfg, err := loadRunConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	// Fail closed before launching anything: every requested name must
	// be registered.
	reg := scenario.Default()
	names := args
	if len(names) == 0 {
		names = reg.Names()
	}
	for _, name := range names {
		if _, err := reg.Lookup(name); err != nil {
			return WrapExitError(ExitCommandError, "unknown scenario", err)
		}
	}

	// Fresh summary log per run; suites append within the run.
	summaryPath := filepath.Join(cfg.WorkDir, sentinel.SummaryName)
	if err := os.Remove(summaryPath); err != nil && !os.IsNotExist(err) {
		return WrapExitError(ExitCommandError, "reset summary log", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	progress := cmd.OutOrStdout()
	if opts.Format == "json" {
		// Keep stdout parseable; progress lines join diagnostics.
		progress = cmd.ErrOrStderr()
	}

	startedAt := time.Now()
	runner := driver.New(driver.Config{
		LLDB:            cfg.LLDB,
		Runner:          cfg.Runner,
		Plugin:          cfg.Plugin,
		Assembly:        cfg.Assembly,
		BootstrapSymbol: cfg.BootstrapSymbol,
		Timeout:         cfg.Timeout(),
		WorkDir:         cfg.WorkDir,
	}, logger, progress)

	outcomes, err := runner.Run(cmd.Context(), names)
	if err != nil {
		return WrapExitError(ExitCommandError, "harness run aborted", err)
	}

	rep, err := parseSummary(summaryPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse summary log", err)
	}

	result := runResult{Total: len(outcomes), Report: rep}
	for _, o := range outcomes {
		if o.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Archive != "" {
		runID, err := archiveReport(cmd, opts.Archive, cfg.Assembly, startedAt, len(names), rep)
		if err != nil {
			return WrapExitError(ExitCommandError, "archive report", err)
		}
		result.RunID = runID
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_SCENARIOS_FAILED",
				Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		rep.Render(cmd.OutOrStdout())
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// loadRunConfig merges defaults, the optional config file, and explicit
// flags, in that order.
func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
	}

	if cmd.Flags().Changed("lldb") {
		cfg.LLDB = opts.LLDB
	}
	if cmd.Flags().Changed("runner") {
		cfg.Runner = opts.Runner
	}
	if cmd.Flags().Changed("plugin") {
		cfg.Plugin = opts.Plugin
	}
	if cmd.Flags().Changed("assembly") {
		cfg.Assembly = opts.Assembly
	}
	if cmd.Flags().Changed("workdir") {
		cfg.WorkDir = opts.WorkDir
	}
	if cmd.Flags().Changed("bootstrap-symbol") {
		cfg.BootstrapSymbol = opts.BootstrapSymbol
	}
	if cmd.Flags().Changed("timeout") {
		cfg.TimeoutSeconds = opts.Timeout
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parseSummary reads the summary log into a report. A missing file
// (every session died before its first append) yields an empty report.
func parseSummary(path string) (*report.Report, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return report.New(nil), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return report.Parse(f)
}

// archiveReport persists the run's report and returns the run ID.
func archiveReport(cmd *cobra.Command, dbPath, assembly string, startedAt time.Time, scenarios int, rep *report.Report) (string, error) {
	arch, err := history.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer arch.Close()

	run := history.NewRun(startedAt, assembly, scenarios)
	if err := arch.SaveReport(cmd.Context(), run, rep); err != nil {
		return "", err
	}
	return run.ID, nil
}
