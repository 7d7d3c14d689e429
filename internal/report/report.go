// Package report turns an accumulated summary log into a structured
// per-suite and total report.
//
// The parser is a small line-oriented state machine over the sentinel
// summary protocol: a "new_suite:" line opens a suite record, True and
// False lines increment its counters, "Complete!" marks it complete,
// and "!!! " lines accumulate as failure context. A suite that never
// sees its "Complete!" marker stays incomplete no matter what its
// counters say, which is how a mid-suite kill surfaces in the output.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/clrdiag/sostest/internal/sentinel"
)

// Suite is the derived record for one scenario's block in the summary
// log, or for the TOTAL pseudo-suite.
type Suite struct {
	Name     string `json:"name"`
	Pass     int    `json:"pass"`
	Fail     int    `json:"fail"`
	Complete bool   `json:"complete"`
}

// Report aggregates every suite in a summary log plus the TOTAL
// pseudo-suite and all captured failure-context lines.
type Report struct {
	Suites   []Suite  `json:"suites"`
	Total    Suite    `json:"total"`
	Failures []string `json:"failures,omitempty"`
}

// New builds a report from already-derived suite records, recomputing
// the TOTAL pseudo-suite. Used when reconstructing reports from the
// history archive, where only counters survive.
func New(suites []Suite) *Report {
	r := &Report{Suites: suites}
	r.recomputeTotal()
	return r
}

// Parse reads a summary log and derives the report.
//
// Outcome and completion lines that appear before the first suite
// boundary have no suite to attribute to and are ignored; a killed
// session can only truncate the log, never produce such lines, so this
// is purely defensive.
func Parse(r io.Reader) (*Report, error) {
	rep := &Report{}
	var cur *Suite

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, sentinel.SuitePrefix):
			rep.flush(cur)
			name := suiteName(strings.TrimPrefix(line, sentinel.SuitePrefix))
			cur = &Suite{Name: name}
		case strings.HasPrefix(line, sentinel.LinePass):
			if cur != nil {
				cur.Pass++
			}
		case strings.HasPrefix(line, sentinel.LineFail):
			if cur != nil {
				cur.Fail++
			}
		case strings.HasPrefix(line, sentinel.LineComplete):
			if cur != nil {
				cur.Complete = true
			}
		case strings.HasPrefix(line, sentinel.FailurePrefix):
			rep.Failures = append(rep.Failures, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read summary log: %w", err)
	}

	rep.flush(cur)
	rep.recomputeTotal()
	return rep, nil
}

// flush closes the currently open suite record, if any.
func (r *Report) flush(cur *Suite) {
	if cur != nil {
		r.Suites = append(r.Suites, *cur)
	}
}

// recomputeTotal rebuilds the TOTAL pseudo-suite: counters are summed
// and completeness is the conjunction over all suites. An empty report
// totals to zero counts and complete.
func (r *Report) recomputeTotal() {
	total := Suite{Name: "TOTAL", Complete: true}
	for _, s := range r.Suites {
		total.Pass += s.Pass
		total.Fail += s.Fail
		total.Complete = total.Complete && s.Complete
	}
	r.Total = total
}

// suiteName extracts the suite name from the text after the boundary
// marker: the last whitespace-separated token, with the scenario-module
// framework prefix stripped.
func suiteName(rest string) string {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	name := fields[len(fields)-1]
	return strings.TrimPrefix(name, "t_")
}

// Render writes the human-readable report: all captured failure lines
// first, then the fixed-width suite table.
func (r *Report) Render(w io.Writer) {
	for _, msg := range r.Failures {
		fmt.Fprintln(w, msg)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=======================================")
	fmt.Fprintf(w, "%-15s %-6s %-6s %-9s\n", "Test suite", "Pass", "Fail", "Completed")
	fmt.Fprintln(w, "---------------------------------------")
	for _, s := range r.Suites {
		fmt.Fprintf(w, "%-15s %4d   %4d   %9s\n", s.Name, s.Pass, s.Fail, formatBool(s.Complete))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-15s %4d   %4d   %9s\n", r.Total.Name, r.Total.Pass, r.Total.Fail, formatBool(r.Total.Complete))
	fmt.Fprintln(w, "=======================================")
}

// formatBool matches the capitalization used in the summary log.
func formatBool(v bool) string {
	if v {
		return sentinel.LinePass
	}
	return sentinel.LineFail
}
