package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TwoSuites(t *testing.T) {
	// The canonical aggregation example: two complete suites, one with
	// a failure.
	log := "new_suite: a\nTrue\nTrue\nComplete!\nnew_suite: b\nFalse\nComplete!\n"

	rep, err := Parse(strings.NewReader(log))
	require.NoError(t, err)

	require.Len(t, rep.Suites, 2)
	assert.Equal(t, Suite{Name: "a", Pass: 2, Fail: 0, Complete: true}, rep.Suites[0])
	assert.Equal(t, Suite{Name: "b", Pass: 0, Fail: 1, Complete: true}, rep.Suites[1])
	assert.Equal(t, Suite{Name: "TOTAL", Pass: 2, Fail: 1, Complete: true}, rep.Total)
}

func TestParse_StripsFrameworkPrefix(t *testing.T) {
	rep, err := Parse(strings.NewReader("new_suite: t_cmd_bpmd\nTrue\nComplete!\n"))
	require.NoError(t, err)

	require.Len(t, rep.Suites, 1)
	assert.Equal(t, "cmd_bpmd", rep.Suites[0].Name)
}

func TestParse_MissingCompleteMarksIncomplete(t *testing.T) {
	// A killed session truncates the log mid-suite: counts survive but
	// the suite, and therefore TOTAL, must read as incomplete.
	log := "new_suite: t_cmd_bpmd\nTrue\nComplete!\nnew_suite: t_cmd_dso\nTrue\nTrue\n"

	rep, err := Parse(strings.NewReader(log))
	require.NoError(t, err)

	require.Len(t, rep.Suites, 2)
	assert.True(t, rep.Suites[0].Complete)
	assert.False(t, rep.Suites[1].Complete)
	assert.Equal(t, 2, rep.Suites[1].Pass)
	assert.False(t, rep.Total.Complete)
}

func TestParse_CollectsFailureContext(t *testing.T) {
	log := strings.Join([]string{
		"new_suite: t_cmd_bpmd",
		"False",
		"!!! test failed:",
		"!!!  /src/t_cmd_bpmd.go:30",
		"!!! env.T.Equal(dbg.StateStopped, state, assert.Fatal)",
	}, "\n") + "\n"

	rep, err := Parse(strings.NewReader(log))
	require.NoError(t, err)

	require.Len(t, rep.Failures, 3)
	assert.Equal(t, "!!! test failed:", rep.Failures[0])
	assert.Equal(t, 1, rep.Suites[0].Fail)
	assert.False(t, rep.Suites[0].Complete)
}

func TestParse_EmptyLog(t *testing.T) {
	rep, err := Parse(strings.NewReader(""))
	require.NoError(t, err)

	assert.Empty(t, rep.Suites)
	assert.Equal(t, Suite{Name: "TOTAL", Pass: 0, Fail: 0, Complete: true}, rep.Total)
}

func TestParse_IgnoresOrphanOutcomeLines(t *testing.T) {
	// Outcome lines before any suite boundary have no suite to belong
	// to and must not be counted anywhere.
	rep, err := Parse(strings.NewReader("True\nFalse\nnew_suite: a\nTrue\nComplete!\n"))
	require.NoError(t, err)

	require.Len(t, rep.Suites, 1)
	assert.Equal(t, 1, rep.Suites[0].Pass)
	assert.Equal(t, 1, rep.Total.Pass)
	assert.Equal(t, 0, rep.Total.Fail)
}

func TestParse_SuiteNameIsLastToken(t *testing.T) {
	rep, err := Parse(strings.NewReader("new_suite: module t_cmd_dso\nComplete!\n"))
	require.NoError(t, err)

	require.Len(t, rep.Suites, 1)
	assert.Equal(t, "cmd_dso", rep.Suites[0].Name)
}

func TestNew_RecomputesTotal(t *testing.T) {
	rep := New([]Suite{
		{Name: "a", Pass: 3, Fail: 0, Complete: true},
		{Name: "b", Pass: 1, Fail: 2, Complete: false},
	})

	assert.Equal(t, Suite{Name: "TOTAL", Pass: 4, Fail: 2, Complete: false}, rep.Total)
}

func TestRender_Golden(t *testing.T) {
	log := strings.Join([]string{
		"new_suite: t_cmd_bpmd",
		"True",
		"True",
		"Complete!",
		"new_suite: t_cmd_clrstack",
		"True",
		"False",
		"!!! test failed:",
		"!!!  /src/scenario/clrstack.go:42",
		"!!! env.T.True(len(res.Output) > 0, assert.NonFatal)",
		"Complete!",
		"new_suite: t_cmd_dumpheap",
		"True",
	}, "\n") + "\n"

	rep, err := Parse(strings.NewReader(log))
	require.NoError(t, err)

	var buf bytes.Buffer
	rep.Render(&buf)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", buf.Bytes())
}

func TestRender_EmptyReport(t *testing.T) {
	rep := New(nil)

	var buf bytes.Buffer
	rep.Render(&buf)

	out := buf.String()
	assert.Contains(t, out, "Test suite      Pass   Fail   Completed")
	assert.Contains(t, out, "TOTAL              0      0        True")
}
