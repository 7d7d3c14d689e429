// Package session implements the in-session controller: the state
// machine that brings one debuggee to a known state under one debugger
// session before handing control to a scenario, and that decides
// afterwards whether the run was confirmed clean.
//
// The controller runs inside the session process the harness driver
// launches. Its contract with the driver is entirely through the
// sentinel store: flags are raised before anything that can go wrong
// and cleared only on confirmed clean completion, so a crash, hang, or
// forced kill at any point leaves the failure signal in place.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/clrdiag/sostest/internal/assert"
	"github.com/clrdiag/sostest/internal/dbg"
	"github.com/clrdiag/sostest/internal/scenario"
	"github.com/clrdiag/sostest/internal/sentinel"
)

// DefaultBootstrapSymbol is the runtime-loader symbol the bootstrap
// breakpoint is set on. Stopping here proves the managed runtime has
// finished bootstrap loading. Release builds may strip it.
const DefaultBootstrapSymbol = "LoadLibraryExW"

// State is the debuggee lifecycle position within one session.
type State int

const (
	NotLaunched State = iota
	Launched
	StoppedAtBootstrap
	RunningScenario
	Exited
)

func (s State) String() string {
	switch s {
	case NotLaunched:
		return "not-launched"
	case Launched:
		return "launched"
	case StoppedAtBootstrap:
		return "stopped-at-bootstrap"
	case RunningScenario:
		return "running-scenario"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller drives one debuggee under one debugger session.
type Controller struct {
	client          dbg.Client
	flags           *sentinel.Store
	t               *assert.Context
	reg             *scenario.Registry
	logger          *slog.Logger
	bootstrapSymbol string
	state           State
}

// NewController wires a controller. A nil bootstrapSymbol option falls
// back to DefaultBootstrapSymbol.
func NewController(client dbg.Client, flags *sentinel.Store, t *assert.Context, reg *scenario.Registry, logger *slog.Logger, bootstrapSymbol string) *Controller {
	if bootstrapSymbol == "" {
		bootstrapSymbol = DefaultBootstrapSymbol
	}
	return &Controller{
		client:          client,
		flags:           flags,
		t:               t,
		reg:             reg,
		logger:          logger,
		bootstrapSymbol: bootstrapSymbol,
		state:           NotLaunched,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State { return c.state }

// Run executes the named scenario against assembly.
//
// Fail flags are raised before anything else so that every subsequent
// failure mode, including this function never returning, is visible
// to the driver. They are cleared only when the debuggee exited with
// status zero and no assertion failed.
func (c *Controller) Run(ctx context.Context, assembly, name string) error {
	if err := c.flags.Raise(); err != nil {
		return err
	}
	if err := c.flags.RaiseEngine(); err != nil {
		return err
	}
	if err := c.flags.BeginSuite(name); err != nil {
		return err
	}

	fn, err := c.reg.Lookup(name)
	if err != nil {
		return err
	}

	// NotLaunched -> Launched: debuggee starts suspended.
	res, err := c.client.Exec(ctx, "process launch -s")
	if err != nil {
		return fmt.Errorf("launch debuggee: %w", err)
	}
	c.t.CheckResult(res)
	c.state = Launched
	c.logger.Info("debuggee launched", "assembly", assembly)

	// Launched -> StoppedAtBootstrap: breakpoint on the runtime-loader
	// symbol, continue, require a stop.
	res, err = c.client.Exec(ctx, "breakpoint set -n "+c.bootstrapSymbol)
	if err != nil {
		return fmt.Errorf("set bootstrap breakpoint: %w", err)
	}
	c.t.CheckResult(res)

	res, err = c.client.Exec(ctx, "process continue")
	if err != nil {
		return fmt.Errorf("continue to bootstrap: %w", err)
	}
	c.t.CheckResult(res)

	state, err := c.client.State(ctx)
	if err != nil {
		return fmt.Errorf("query state at bootstrap: %w", err)
	}
	// Non-fatal on purpose: a stripped build that lacks the loader
	// symbol runs straight past here, and the scenario's own checks
	// then report the original symptom. Making this fatal would change
	// what such a failure looks like in the summary log.
	c.t.Equal(dbg.StateStopped, state, assert.NonFatal)
	if state != dbg.StateStopped {
		c.logger.Warn("debuggee did not stop at bootstrap symbol",
			"symbol", c.bootstrapSymbol, "state", state.String())
	}
	c.state = StoppedAtBootstrap

	// The bootstrap breakpoint must not interfere with scenario
	// breakpoints; it is the first and only one, so it is number 1.
	res, err = c.client.Exec(ctx, "breakpoint delete 1")
	if err != nil {
		return fmt.Errorf("delete bootstrap breakpoint: %w", err)
	}
	c.t.CheckResult(res)

	// StoppedAtBootstrap -> RunningScenario: control passes entirely to
	// scenario code until it returns or a fatal assertion aborts us.
	c.state = RunningScenario
	c.logger.Info("starting scenario", "scenario", name)
	fn(ctx, &scenario.Env{
		Assembly: filepath.Base(assembly),
		Debugger: c.client,
		T:        c.t,
		Log:      c.logger,
	})

	// RunningScenario -> Exited: confirm the debuggee's own exit.
	status, statusErr := c.client.ExitStatus(ctx)
	clean := statusErr == nil && status == 0 && !c.t.Failed()
	if clean {
		if err := c.flags.ClearAll(); err != nil {
			return fmt.Errorf("clear fail flags: %w", err)
		}
	} else {
		c.logger.Warn("scenario did not complete cleanly",
			"scenario", name, "exit_status", status,
			"status_err", statusErr, "assertions_failed", c.t.Failed())
	}
	c.state = Exited

	// Reached whenever no fatal abort cut the session short; the flag
	// state above is what distinguishes pass from fail.
	if err := c.flags.Complete(); err != nil {
		return err
	}
	c.logger.Info("scenario finished", "scenario", name, "clean", clean)
	return nil
}
