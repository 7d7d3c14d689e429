package scenario

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/clrdiag/sostest/internal/assert"
	"github.com/clrdiag/sostest/internal/dbg"
)

// EntryMethod is the managed entry point every test assembly exposes.
// The extension's "break on managed method" command resolves it once
// the runtime has finished bootstrap loading.
const EntryMethod = "Test.Main"

// StopAtMain installs a managed breakpoint at the entry method and
// continues until the debuggee stops there. The debuggee must already
// be stopped at the bootstrap breakpoint when this is called.
func StopAtMain(ctx context.Context, env *Env) {
	state, err := env.Debugger.State(ctx)
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	// The runtime is still loading here; a release build without the
	// loader symbol tends to sail past the bootstrap stop.
	env.T.Equal(dbg.StateStopped, state, assert.Fatal)

	res, err := env.Debugger.Exec(ctx, fmt.Sprintf("bpmd %s %s", env.Assembly, EntryMethod))
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	env.Log.Info("bpmd", "output", res.Output)
	// The interpreter must have the command and be able to run it.
	env.T.True(res.Success, assert.Fatal)
	// At minimum the pending-breakpoint notice is printed.
	env.T.True(len(res.Output) > 0, assert.Fatal)

	res, err = env.Debugger.Exec(ctx, "process continue")
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	env.T.CheckResult(res)

	state, err = env.Debugger.State(ctx)
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	// Stopped again here means the managed breakpoint resolved and hit.
	env.T.Equal(dbg.StateStopped, state, assert.Fatal)
}

// ExitDebuggee resumes the debuggee and verifies it exits cleanly with
// status zero. Scenarios call this as their final step.
func ExitDebuggee(ctx context.Context, env *Env) {
	res, err := env.Debugger.Exec(ctx, "process continue")
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	env.T.CheckResult(res)

	state, err := env.Debugger.State(ctx)
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	env.T.Equal(dbg.StateExited, state, assert.Fatal)

	status, err := env.Debugger.ExitStatus(ctx)
	if err != nil {
		env.T.CheckResult(dbg.Result{Err: err.Error()})
		return
	}
	env.T.Equal(0, status, assert.Fatal)
}

// ExecAndFind runs a command and scans its output line by line for the
// first match of pattern, returning the first capture group. An empty
// string means no line matched. The command itself failing is an
// unrecoverable harness error.
func ExecAndFind(ctx context.Context, env *Env, command, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	res, err := env.Debugger.Exec(ctx, command)
	if err != nil {
		return "", fmt.Errorf("exec %q: %w", command, err)
	}
	env.T.CheckResult(res)
	env.Log.Info("exec_and_find", "command", command, "output", res.Output)

	for _, line := range splitLines(res.Output) {
		if m := re.FindStringSubmatch(line); m != nil && len(m) > 1 {
			return m[1], nil
		}
	}
	return "", nil
}

// IsHexNum reports whether s parses as a hexadecimal number.
func IsHexNum(s string) bool {
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
