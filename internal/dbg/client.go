// Package dbg abstracts the native debugger the harness drives.
//
// The harness treats the debugger's command set as an opaque
// vocabulary: it issues command strings and pattern-matches the output.
// The only structure it relies on is whether a command succeeded, and
// the debuggee's coarse process state (stopped, exited, exit status).
package dbg

import "context"

// Result is the outcome of one issued debugger command.
type Result struct {
	Output  string // combined command output
	Err     string // error text reported by the debugger, if any
	Success bool
}

// ProcessState is the coarse debuggee state the harness reasons about.
type ProcessState int

const (
	StateUnknown ProcessState = iota
	StateRunning
	StateStopped
	StateExited
)

func (s ProcessState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Client is one live debugger session bound to one debuggee.
//
// The session is fully synchronous: one outstanding command at a time,
// each call blocking until the debugger answers. Suspension points are
// exactly command boundaries, which is what lets the session controller
// treat the debuggee lifecycle as a simple state machine.
type Client interface {
	// Exec issues a command string and returns its output and
	// success/failure. A non-nil error means the session transport
	// itself broke, not that the command failed.
	Exec(ctx context.Context, command string) (Result, error)

	// State reports the debuggee's current process state.
	State(ctx context.Context) (ProcessState, error)

	// ExitStatus returns the debuggee's exit status. Only meaningful
	// once State reports StateExited.
	ExitStatus(ctx context.Context) (int, error)

	// Close shuts the debugger down. Best effort; the driver's forced
	// kill is the backstop.
	Close() error
}
