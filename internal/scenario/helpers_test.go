package scenario

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrdiag/sostest/internal/assert"
	"github.com/clrdiag/sostest/internal/dbg"
	"github.com/clrdiag/sostest/internal/sentinel"
	"github.com/clrdiag/sostest/internal/testutil"
)

// abortPanic is thrown by the test abort hook so a fatal assertion
// actually stops scenario execution, like os.Exit does in production.
type abortPanic struct{ code int }

type testEnv struct {
	env   *Env
	fake  *testutil.FakeDebugger
	store *sentinel.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := sentinel.New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc := assert.NewContext(store, logger,
		assert.WithAbort(func(code int) { panic(abortPanic{code}) }))
	fake := testutil.NewFakeDebugger()
	return &testEnv{
		env: &Env{
			Assembly: "test.exe",
			Debugger: fake,
			T:        tc,
			Log:      logger,
		},
		fake:  fake,
		store: store,
	}
}

// run invokes fn and converts a fatal-abort panic into a return value.
func run(fn func()) (aborted bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(abortPanic); ok {
				aborted = true
				return
			}
			panic(r)
		}
	}()
	fn()
	return false
}

func summaryText(t *testing.T, store *sentinel.Store) string {
	t.Helper()
	data, err := os.ReadFile(store.SummaryPath())
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestStopAtMain_HappyPath(t *testing.T) {
	te := newTestEnv(t)
	// Stopped at bootstrap, then stopped again at the entry breakpoint.
	te.fake.StateSeq = []dbg.ProcessState{dbg.StateStopped, dbg.StateStopped}
	te.fake.Respond("bpmd test.exe Test.Main", dbg.Result{
		Output: "Adding pending breakpoints...\n", Success: true,
	})

	aborted := run(func() { StopAtMain(context.Background(), te.env) })

	tassert.False(t, aborted)
	tassert.False(t, te.env.T.Failed())
	tassert.True(t, te.fake.Issued("bpmd test.exe Test.Main"))
	tassert.True(t, te.fake.Issued("process continue"))
	tassert.NotContains(t, summaryText(t, te.store), "False")
}

func TestStopAtMain_DebuggeeExitsEarly(t *testing.T) {
	te := newTestEnv(t)
	// The debuggee sails past the entry breakpoint and exits.
	te.fake.StateSeq = []dbg.ProcessState{dbg.StateStopped, dbg.StateExited}
	te.fake.Respond("bpmd test.exe Test.Main", dbg.Result{
		Output: "Adding pending breakpoints...\n", Success: true,
	})

	aborted := run(func() { StopAtMain(context.Background(), te.env) })

	tassert.True(t, aborted, "missing the entry breakpoint is fatal")
	tassert.True(t, te.env.T.Failed())
	tassert.Contains(t, summaryText(t, te.store), "!!! test failed:")
}

func TestStopAtMain_BpmdCommandMissing(t *testing.T) {
	te := newTestEnv(t)
	te.fake.FailCommand("bpmd test.exe Test.Main", "'bpmd' is not a valid command")

	aborted := run(func() { StopAtMain(context.Background(), te.env) })

	tassert.True(t, aborted)
}

func TestExitDebuggee_CleanExit(t *testing.T) {
	te := newTestEnv(t)
	te.fake.StateSeq = []dbg.ProcessState{dbg.StateExited}
	te.fake.Exit = 0

	aborted := run(func() { ExitDebuggee(context.Background(), te.env) })

	tassert.False(t, aborted)
	tassert.False(t, te.env.T.Failed())
}

func TestExitDebuggee_NonZeroStatusIsFatal(t *testing.T) {
	te := newTestEnv(t)
	te.fake.StateSeq = []dbg.ProcessState{dbg.StateExited}
	te.fake.Exit = 1

	aborted := run(func() { ExitDebuggee(context.Background(), te.env) })

	tassert.True(t, aborted)
	tassert.True(t, te.env.T.Failed())
}

func TestExitDebuggee_StillStoppedIsFatal(t *testing.T) {
	te := newTestEnv(t)
	te.fake.StateSeq = []dbg.ProcessState{dbg.StateStopped}

	aborted := run(func() { ExitDebuggee(context.Background(), te.env) })

	tassert.True(t, aborted)
}

func TestExecAndFind(t *testing.T) {
	te := newTestEnv(t)
	te.fake.Respond("name2ee test.exe Test.Main", dbg.Result{
		Output:  "Module: 00007f1234567890\nMethodDesc: 00007f0987654321\n",
		Success: true,
	})

	addr, err := ExecAndFind(context.Background(), te.env,
		"name2ee test.exe Test.Main", `MethodDesc:\s+([0-9a-fA-F]+)`)
	require.NoError(t, err)
	tassert.Equal(t, "00007f0987654321", addr)
	tassert.True(t, IsHexNum(addr))
}

func TestExecAndFind_NoMatch(t *testing.T) {
	te := newTestEnv(t)
	te.fake.Respond("dumpheap", dbg.Result{Output: "no objects\n", Success: true})

	addr, err := ExecAndFind(context.Background(), te.env, "dumpheap", `Address: (\w+)`)
	require.NoError(t, err)
	tassert.Empty(t, addr)
}

func TestExecAndFind_BadPattern(t *testing.T) {
	te := newTestEnv(t)

	_, err := ExecAndFind(context.Background(), te.env, "dumpheap", `([`)
	tassert.Error(t, err)
}

func TestIsHexNum(t *testing.T) {
	tassert.True(t, IsHexNum("00007f1234567890"))
	tassert.True(t, IsHexNum("DEADBEEF"))
	tassert.False(t, IsHexNum("not hex"))
	tassert.False(t, IsHexNum(""))
}

func TestBpmdScenario_EndToEnd(t *testing.T) {
	te := newTestEnv(t)
	te.fake.StateSeq = []dbg.ProcessState{
		dbg.StateStopped, // at bootstrap, before bpmd
		dbg.StateStopped, // at the entry breakpoint
		dbg.StateExited,  // after the final continue
	}
	te.fake.Exit = 0
	te.fake.Respond("bpmd test.exe Test.Main", dbg.Result{
		Output: "Adding pending breakpoints...\n", Success: true,
	})

	fn, err := Default().Lookup("t_cmd_bpmd")
	require.NoError(t, err)

	aborted := run(func() { fn(context.Background(), te.env) })

	tassert.False(t, aborted)
	tassert.False(t, te.env.T.Failed())
	text := summaryText(t, te.store)
	tassert.NotContains(t, text, "False")
	tassert.Greater(t, strings.Count(text, "True"), 3)
}

func TestCommandProbe_EmptyOutputIsNonFatal(t *testing.T) {
	te := newTestEnv(t)
	te.fake.StateSeq = []dbg.ProcessState{
		dbg.StateStopped, dbg.StateStopped, dbg.StateExited,
	}
	te.fake.Exit = 0
	te.fake.Respond("bpmd test.exe Test.Main", dbg.Result{
		Output: "Adding pending breakpoints...\n", Success: true,
	})
	te.fake.Respond("clrstack", dbg.Result{Output: "", Success: true})

	fn, err := Default().Lookup("t_cmd_clrstack")
	require.NoError(t, err)

	aborted := run(func() { fn(context.Background(), te.env) })

	tassert.False(t, aborted, "empty probe output must not abort the session")
	tassert.True(t, te.env.T.Failed(), "but it is still a recorded failure")
	tassert.Contains(t, summaryText(t, te.store), "False")
}
