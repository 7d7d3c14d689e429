// Package scenario defines the pluggable test units the session
// controller hands the live debuggee to, plus the shared helpers they
// drive it with.
//
// A scenario receives the debuggee identifier and the live session
// handles and reports results exclusively through the assertion
// context; it has no return value. Each scenario must drive the
// debuggee to a terminal state itself; the controller does not resume
// the process after a scenario returns. The usual shape is: stop at the
// entry method, probe one extension command, continue to clean exit.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/clrdiag/sostest/internal/assert"
	"github.com/clrdiag/sostest/internal/dbg"
)

// ErrUnknown is returned when a scenario name is not registered. The
// registry fails closed: an unknown name is a configuration error, not
// a crash.
var ErrUnknown = errors.New("unknown scenario")

// Env is the execution environment handed to a scenario: the debuggee
// file name, the live debugger session, and the assertion context.
type Env struct {
	Assembly string
	Debugger dbg.Client
	T        *assert.Context
	Log      *slog.Logger
}

// Func is one scenario's entry point.
type Func func(ctx context.Context, env *Env)

// Registry maps scenario names to handlers. Built once at startup,
// queried by name, never mutated during a run.
type Registry struct {
	handlers map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register adds a named scenario. Duplicate names are rejected so a
// typo cannot silently shadow an existing scenario.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("scenario name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("scenario %q: handler must not be nil", name)
	}
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("scenario %q already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// Lookup resolves a scenario by name.
func (r *Registry) Lookup(name string) (Func, error) {
	fn, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return fn, nil
}

// Names returns all registered scenario names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
