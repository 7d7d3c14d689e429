// Package sentinel implements the durable on-disk signal shared between
// the harness driver and the in-session controller.
//
// Two pieces of state live here, both in a single working directory:
//
//   - Fail flags: existence-only marker files. A flag is created when a
//     session begins and removed only on confirmed clean completion.
//     The driver treats a flag that survives session termination as a
//     failure, no matter how the session process died.
//   - Summary log: an append-only, line-oriented record of suite
//     boundaries, assertion outcomes, failure context, and completion
//     markers.
//
// This is the only channel that survives a crashed, hung, or killed
// session process, so every failure path in the harness ultimately
// funnels into it. The driver never reads any of these files until the
// session process has terminated, which is what makes the lock-free
// append-only protocol safe.
package sentinel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names inside the store directory. Fixed for compatibility with
// the summary/flag layout consumed by existing tooling.
const (
	FlagName       = "fail_flag"
	EngineFlagName = "fail_flag.lldb"
	SummaryName    = "summary"
)

// Summary log line protocol. ASCII, newline-delimited, append-only.
const (
	SuitePrefix   = "new_suite: "
	LinePass      = "True"
	LineFail      = "False"
	LineComplete  = "Complete!"
	FailurePrefix = "!!! "
	FailureHeader = "!!! test failed:"
)

// Frame is one unit of failure context: a source location and the
// source text at that location.
type Frame struct {
	Location string // file:line
	Source   string // trimmed source text, may be empty
}

// Store is a handle to the sentinel files of one working directory.
// It carries no open file descriptors; every append opens, writes, and
// closes so that a hard kill loses at most the in-flight line.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The directory must already exist.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's working directory.
func (s *Store) Dir() string { return s.dir }

// FlagPath returns the path of the generic fail flag.
func (s *Store) FlagPath() string { return filepath.Join(s.dir, FlagName) }

// EngineFlagPath returns the path of the engine-specific fail flag,
// which covers the case where the generic flag cannot be managed due to
// a failure inside the debugger engine itself.
func (s *Store) EngineFlagPath() string { return filepath.Join(s.dir, EngineFlagName) }

// SummaryPath returns the path of the summary log.
func (s *Store) SummaryPath() string { return filepath.Join(s.dir, SummaryName) }

// Raise creates the generic fail flag.
func (s *Store) Raise() error { return touch(s.FlagPath()) }

// RaiseEngine creates the engine-specific fail flag.
func (s *Store) RaiseEngine() error { return touch(s.EngineFlagPath()) }

// Clear removes the generic fail flag. Removing an absent flag is not
// an error.
func (s *Store) Clear() error { return remove(s.FlagPath()) }

// ClearEngine removes the engine-specific fail flag.
func (s *Store) ClearEngine() error { return remove(s.EngineFlagPath()) }

// ClearAll removes both fail flags.
func (s *Store) ClearAll() error {
	if err := s.Clear(); err != nil {
		return err
	}
	return s.ClearEngine()
}

// Raised reports whether either fail flag is present.
func (s *Store) Raised() bool {
	return exists(s.FlagPath()) || exists(s.EngineFlagPath())
}

// BeginSuite appends a suite boundary marker for the named scenario.
func (s *Store) BeginSuite(name string) error {
	return s.appendLines(SuitePrefix + name)
}

// RecordOutcome appends one assertion outcome line.
func (s *Store) RecordOutcome(passed bool) error {
	if passed {
		return s.appendLines(LinePass)
	}
	return s.appendLines(LineFail)
}

// RecordFailure appends a failure-context block: a header line followed
// by a two-line (location, source text) block per frame.
func (s *Store) RecordFailure(frames []Frame) error {
	lines := make([]string, 0, 1+2*len(frames))
	lines = append(lines, FailureHeader)
	for _, f := range frames {
		lines = append(lines, FailurePrefix+" "+f.Location)
		lines = append(lines, FailurePrefix+f.Source)
	}
	return s.appendLines(lines...)
}

// Complete appends the suite completion marker. Its absence after a
// session terminates means the suite was cut short by a fatal abort,
// crash, or forced kill.
func (s *Store) Complete() error {
	return s.appendLines(LineComplete)
}

// appendLines appends the given lines to the summary log, creating the
// file if needed. The file is closed before returning.
func (s *Store) appendLines(lines ...string) error {
	f, err := os.OpenFile(s.SummaryPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open summary log: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append summary log: %w", err)
	}
	return nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create flag %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove flag %s: %w", filepath.Base(path), err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
