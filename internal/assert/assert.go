// Package assert implements the harness assertion primitives.
//
// Assertions record their outcome in the sentinel summary log, so
// results survive the session process however it dies. A fatal failure
// aborts the entire session process immediately: once an expectation
// about debuggee state is violated, further debugger commands cannot be
// trusted and risk a hang that only the outer driver's deadline would
// bound. Non-fatal failures are recorded and return control to the
// scenario so it may continue probing.
//
// There is no package-level mutable state; everything hangs off a
// Context passed by reference through the controller and scenarios.
package assert

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/clrdiag/sostest/internal/dbg"
	"github.com/clrdiag/sostest/internal/sentinel"
)

// Severity selects whether a failed assertion aborts the session.
type Severity bool

const (
	// Fatal failures terminate the session process with a non-zero
	// status. This is the default posture of the scenario helpers.
	Fatal Severity = true
	// NonFatal failures are recorded and execution continues.
	NonFatal Severity = false
)

// maxFrames bounds how much failure context is captured per assertion.
const maxFrames = 8

// Context carries assertion state for one session. It owns the latch
// that decides whether the sentinel flag may be cleared at session end.
type Context struct {
	store  *sentinel.Store
	logger *slog.Logger
	abort  func(code int)
	// boundary reports whether a frame belongs to a scenario module,
	// ending the failure-context walk.
	boundary func(frame runtime.Frame) bool

	mu     sync.Mutex
	failed bool
	src    map[string][]string
}

// Option configures a Context.
type Option func(*Context)

// WithAbort overrides the fatal-abort hook. The default is os.Exit(1);
// tests substitute a recorder.
func WithAbort(fn func(code int)) Option {
	return func(c *Context) { c.abort = fn }
}

// WithBoundary overrides the scenario-frame matcher that bounds
// failure-context capture.
func WithBoundary(fn func(frame runtime.Frame) bool) Option {
	return func(c *Context) { c.boundary = fn }
}

// NewContext creates an assertion context recording into store.
func NewContext(store *sentinel.Store, logger *slog.Logger, opts ...Option) *Context {
	c := &Context{
		store:    store,
		logger:   logger,
		abort:    func(code int) { os.Exit(code) },
		boundary: scenarioFrame,
		src:      make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Failed reports whether any assertion has failed so far.
func (c *Context) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// True asserts that v is true.
func (c *Context) True(v bool, sev Severity) {
	c.record(v, sev)
}

// False asserts that v is false.
func (c *Context) False(v bool, sev Severity) {
	c.record(!v, sev)
}

// Equal asserts that want and got compare equal.
func (c *Context) Equal(want, got any, sev Severity) {
	c.record(want == got, sev)
}

// NotEqual asserts that want and got compare unequal.
func (c *Context) NotEqual(want, got any, sev Severity) {
	c.record(want != got, sev)
}

// CheckResult treats a failed debugger command as an unrecoverable
// harness error: the output is surfaced and the session aborts, since
// the controller cannot reason about downstream debugger state. The
// sentinel flag stays raised.
func (c *Context) CheckResult(res dbg.Result) {
	if res.Success {
		return
	}
	c.logger.Error("debugger command failed", "output", res.Output, "error", res.Err)
	c.abort(1)
}

// record reduces an assertion to its passed value: appends the outcome
// line, and on failure captures call-site context and optionally aborts.
func (c *Context) record(passed bool, sev Severity) {
	if err := c.store.RecordOutcome(passed); err != nil {
		c.logger.Error("record assertion outcome", "err", err)
	}
	if passed {
		return
	}

	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()

	frames := c.callerFrames()
	if err := c.store.RecordFailure(frames); err != nil {
		c.logger.Error("record failure context", "err", err)
	}
	c.logger.Error("assertion failed", "fatal", bool(sev), "frames", len(frames))

	if sev == Fatal {
		c.abort(1)
	}
}

// callerFrames captures a bounded list of (location, source text)
// frames, walking outward from the assertion site until a scenario
// module frame is reached.
func (c *Context) callerFrames() []sentinel.Frame {
	pcs := make([]uintptr, maxFrames+2)
	// Skip runtime.Callers, callerFrames, record, and the primitive.
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []sentinel.Frame
	for {
		fr, more := frames.Next()
		if fr.File == "" {
			break
		}
		out = append(out, sentinel.Frame{
			Location: fmt.Sprintf("%s:%d", fr.File, fr.Line),
			Source:   c.sourceLine(fr.File, fr.Line),
		})
		if c.boundary(fr) || len(out) >= maxFrames || !more {
			break
		}
	}
	return out
}

// sourceLine returns the trimmed source text at file:line, best effort.
// Files are read once and cached for the session's lifetime.
func (c *Context) sourceLine(file string, line int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, ok := c.src[file]
	if !ok {
		data, err := os.ReadFile(file)
		if err != nil {
			c.src[file] = nil
			return ""
		}
		lines = strings.Split(string(data), "\n")
		c.src[file] = lines
	}
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

// scenarioFrame is the default boundary matcher: scenario modules live
// in the internal/scenario package.
func scenarioFrame(fr runtime.Frame) bool {
	return strings.Contains(fr.Function, "internal/scenario.") ||
		strings.Contains(fr.File, string(os.PathSeparator)+"scenario"+string(os.PathSeparator))
}
