// Package testutil provides deterministic test doubles for the
// harness, chiefly a scripted debugger that stands in for lldb.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/clrdiag/sostest/internal/dbg"
)

// FakeDebugger is a scripted dbg.Client. Commands resolve against
// Responses by exact match (longest registered prefix as fallback);
// anything unmatched succeeds with a canned acknowledgment. Process
// state is consumed from StateSeq one query at a time, the last entry
// repeating, so tests can model launch/stop/exit progressions.
type FakeDebugger struct {
	mu        sync.Mutex
	Responses map[string]dbg.Result
	StateSeq  []dbg.ProcessState
	Exit      int
	ExitErr   error
	Commands  []string // every command issued, in order
	Closed    bool

	stateIdx int
}

var _ dbg.Client = (*FakeDebugger)(nil)

// NewFakeDebugger returns a fake whose debuggee is stopped and exits
// cleanly unless the test says otherwise.
func NewFakeDebugger() *FakeDebugger {
	return &FakeDebugger{
		Responses: make(map[string]dbg.Result),
		StateSeq:  []dbg.ProcessState{dbg.StateStopped},
	}
}

// Respond scripts the result for an exact command string.
func (f *FakeDebugger) Respond(command string, res dbg.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[command] = res
}

// FailCommand scripts a command failure with the given error text.
func (f *FakeDebugger) FailCommand(command, errText string) {
	f.Respond(command, dbg.Result{Output: "error: " + errText, Err: errText, Success: false})
}

func (f *FakeDebugger) Exec(ctx context.Context, command string) (dbg.Result, error) {
	if err := ctx.Err(); err != nil {
		return dbg.Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, command)

	if res, ok := f.Responses[command]; ok {
		return res, nil
	}
	for prefix, res := range f.Responses {
		if strings.HasPrefix(command, prefix) {
			return res, nil
		}
	}
	return dbg.Result{Output: fmt.Sprintf("(%s ok)\n", command), Success: true}, nil
}

func (f *FakeDebugger) State(ctx context.Context) (dbg.ProcessState, error) {
	if err := ctx.Err(); err != nil {
		return dbg.StateUnknown, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.StateSeq) == 0 {
		return dbg.StateUnknown, nil
	}
	state := f.StateSeq[f.stateIdx]
	if f.stateIdx < len(f.StateSeq)-1 {
		f.stateIdx++
	}
	return state, nil
}

func (f *FakeDebugger) ExitStatus(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Exit, f.ExitErr
}

func (f *FakeDebugger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Issued reports whether a command starting with prefix was issued.
func (f *FakeDebugger) Issued(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
