// Package driver implements the outer harness: one debugger session
// process per scenario, launched and awaited sequentially, each under a
// wall-clock deadline, with the outcome inferred from the sentinel
// store rather than from the session's exit status.
//
// The driver deliberately never attempts graceful shutdown of an
// over-deadline session. Correctness rests on the sentinel files: a
// session that was killed before reaching its clean-completion logic
// leaves its fail flag in place, and that is the verdict.
package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/clrdiag/sostest/internal/sentinel"
)

// DefaultTimeout bounds one session's wall-clock time.
const DefaultTimeout = 120 * time.Second

// Config holds the fixed launch parameters shared by every scenario.
type Config struct {
	// LLDB is the debugger binary path.
	LLDB string
	// Runner is the debuggee runner binary (e.g. corerun).
	Runner string
	// Plugin is the debugger-extension artifact to load.
	Plugin string
	// Assembly is the target assembly path.
	Assembly string
	// BootstrapSymbol overrides the runtime-loader symbol, if set.
	BootstrapSymbol string
	// Timeout is the per-scenario deadline. Zero means DefaultTimeout.
	Timeout time.Duration
	// WorkDir is where sentinel files and per-scenario logs land.
	WorkDir string
	// SessionCommand overrides the session invocation; the scenario
	// name is appended as the final argument. Empty means re-exec this
	// binary's hidden session subcommand. Tests substitute scripts.
	SessionCommand []string
}

// Outcome is the driver's verdict for one scenario.
type Outcome struct {
	Name     string
	Passed   bool
	TimedOut bool
	Duration time.Duration
	// Err is set when the session invocation could not start or the
	// sentinel store could not be managed; the scenario is failed.
	Err error
}

// Runner launches sessions and inspects sentinel state.
type Runner struct {
	cfg      Config
	flags    *sentinel.Store
	logger   *slog.Logger
	progress io.Writer
}

// New creates a driver. progress receives one line per scenario.
func New(cfg Config, logger *slog.Logger, progress io.Writer) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	return &Runner{
		cfg:      cfg,
		flags:    sentinel.New(cfg.WorkDir),
		logger:   logger,
		progress: progress,
	}
}

// Run executes the named scenarios sequentially and returns one outcome
// each. The returned error covers only driver-level problems that stop
// the whole run (not individual scenario failures).
func (r *Runner) Run(ctx context.Context, names []string) ([]Outcome, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no scenarios to run")
	}
	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		o := r.runOne(ctx, name)
		r.report(o)
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// runOne drives one scenario: clean slate, launch, deadline, reap or
// kill, inspect flags, clean slate again.
func (r *Runner) runOne(ctx context.Context, name string) Outcome {
	start := time.Now()
	o := Outcome{Name: name}

	// Each scenario starts clean no matter what the previous one left.
	if err := r.flags.ClearAll(); err != nil {
		o.Err = err
		return o
	}
	defer r.flags.ClearAll()

	stdout, stderr, err := r.openLogs(name)
	if err != nil {
		o.Err = err
		return o
	}
	defer stdout.Close()
	defer stderr.Close()

	argv := r.sessionArgv(name)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group so the deadline kill takes the whole session
	// tree (debugger and debuggee included).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		// Configuration/filesystem error: immediate failure, no timer.
		o.Err = fmt.Errorf("start session: %w", err)
		o.Duration = time.Since(start)
		return o
	}
	r.logger.Info("session launched", "scenario", name, "pid", cmd.Process.Pid)

	dctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		if waitErr != nil {
			// Informational only; the flags below are the verdict.
			r.logger.Info("session exited non-zero", "scenario", name, "err", waitErr)
		}
	case <-dctx.Done():
		o.TimedOut = true
		r.logger.Warn("session deadline exceeded; killing process group",
			"scenario", name, "timeout", r.cfg.Timeout)
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
	o.Duration = time.Since(start)

	// The sentinel store is the single source of truth: either flag
	// surviving the session means failure, whatever the exit code said.
	o.Passed = !r.flags.Raised() && !o.TimedOut
	return o
}

// sessionArgv composes the session invocation for one scenario.
func (r *Runner) sessionArgv(name string) []string {
	if len(r.cfg.SessionCommand) > 0 {
		return append(append([]string{}, r.cfg.SessionCommand...), name)
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "sostest"
	}
	argv := []string{
		exe, "session",
		"--scenario", name,
		"--assembly", r.cfg.Assembly,
		"--lldb", r.cfg.LLDB,
		"--runner", r.cfg.Runner,
		"--plugin", r.cfg.Plugin,
		"--workdir", r.cfg.WorkDir,
	}
	if r.cfg.BootstrapSymbol != "" {
		argv = append(argv, "--bootstrap-symbol", r.cfg.BootstrapSymbol)
	}
	return argv
}

// openLogs creates the per-scenario log pair: <name>.log for combined
// session stdout, <name>.log.2 for stderr.
func (r *Runner) openLogs(name string) (*os.File, *os.File, error) {
	stdout, err := os.Create(filepath.Join(r.cfg.WorkDir, name+".log"))
	if err != nil {
		return nil, nil, fmt.Errorf("create scenario log: %w", err)
	}
	stderr, err := os.Create(filepath.Join(r.cfg.WorkDir, name+".log.2"))
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("create scenario stderr log: %w", err)
	}
	return stdout, stderr, nil
}

// report writes the one-line console progress for a scenario.
func (r *Runner) report(o Outcome) {
	secs := strconv.FormatFloat(o.Duration.Seconds(), 'f', 2, 64)
	switch {
	case o.Err != nil:
		fmt.Fprintf(r.progress, "FAIL %s (%s)\n", o.Name, o.Err)
	case o.TimedOut:
		fmt.Fprintf(r.progress, "FAIL %s (timeout after %s)\n", o.Name, r.cfg.Timeout)
	case !o.Passed:
		fmt.Fprintf(r.progress, "FAIL %s (%ss)\n", o.Name, secs)
	default:
		fmt.Fprintf(r.progress, "ok   %s (%ss)\n", o.Name, secs)
	}
}
