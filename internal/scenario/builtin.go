package scenario

import (
	"context"

	"github.com/clrdiag/sostest/internal/assert"
	"github.com/clrdiag/sostest/internal/dbg"
)

// Default builds the registry of built-in scenarios. Called once at
// startup; commands and names follow the extension's test suite.
func Default() *Registry {
	r := NewRegistry()
	mustRegister(r, "t_cmd_bpmd", runBpmd)
	for _, p := range []struct {
		name    string
		command string
	}{
		{"t_cmd_clrstack", "clrstack"},
		{"t_cmd_clrthreads", "clrthreads"},
		{"t_cmd_dumpheap", "dumpheap"},
		{"t_cmd_dso", "dso"},
		{"t_cmd_eeheap", "eeheap"},
		{"t_cmd_sos", "sos"},
		{"t_cmd_soshelp", "soshelp"},
	} {
		mustRegister(r, p.name, commandProbe(p.command))
	}
	return r
}

func mustRegister(r *Registry, name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// runBpmd validates the managed-method breakpoint command itself: stop
// at the entry method through bpmd, then verify clean exit.
func runBpmd(ctx context.Context, env *Env) {
	StopAtMain(ctx, env)
	ExitDebuggee(ctx, env)
}

// commandProbe builds a scenario that stops at the entry method, issues
// one extension command, and checks it produces output. The emptiness
// check is non-fatal so a quiet command still gets its exit verified.
func commandProbe(command string) Func {
	return func(ctx context.Context, env *Env) {
		StopAtMain(ctx, env)

		res, err := env.Debugger.Exec(ctx, command)
		if err != nil {
			env.T.CheckResult(dbg.Result{Err: err.Error()})
			return
		}
		env.Log.Info("probe", "command", command, "output", res.Output)
		env.T.CheckResult(res)
		env.T.True(len(res.Output) > 0, assert.NonFatal)

		ExitDebuggee(ctx, env)
	}
}
