package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrdiag/sostest/internal/report"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleReport() *report.Report {
	return report.New([]report.Suite{
		{Name: "cmd_bpmd", Pass: 4, Fail: 0, Complete: true},
		{Name: "cmd_clrstack", Pass: 3, Fail: 1, Complete: true},
		{Name: "cmd_dumpheap", Pass: 1, Fail: 0, Complete: false},
	})
}

func TestSaveAndGetReport_RoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	run := NewRun(time.Now(), "test.exe", 3)
	require.NoError(t, a.SaveReport(ctx, run, sampleReport()))

	got, err := a.GetReport(ctx, run.ID)
	require.NoError(t, err)

	require.Len(t, got.Suites, 3)
	tassert.Equal(t, sampleReport().Suites, got.Suites)
	// TOTAL is recomputed from the archived counters.
	tassert.Equal(t, report.Suite{Name: "TOTAL", Pass: 8, Fail: 1, Complete: false}, got.Total)
}

func TestGetReport_UnknownRun(t *testing.T) {
	a := openTestArchive(t)

	_, err := a.GetReport(context.Background(), "no-such-run")
	require.Error(t, err)
	tassert.Contains(t, err.Error(), "not found")
}

func TestGetReport_RunWithNoSuites(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	run := NewRun(time.Now(), "test.exe", 0)
	require.NoError(t, a.SaveReport(ctx, run, report.New(nil)))

	got, err := a.GetReport(ctx, run.ID)
	require.NoError(t, err)
	tassert.Empty(t, got.Suites)
	tassert.True(t, got.Total.Complete)
}

func TestListRuns_NewestFirst(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	first := NewRun(time.Now().Add(-time.Hour), "test.exe", 1)
	require.NoError(t, a.SaveReport(ctx, first, report.New(nil)))
	second := NewRun(time.Now(), "test.exe", 2)
	require.NoError(t, a.SaveReport(ctx, second, report.New(nil)))

	runs, err := a.ListRuns(ctx, 0)
	require.NoError(t, err)

	// UUIDv7 IDs sort by creation time, so newest comes first.
	require.Len(t, runs, 2)
	tassert.Equal(t, second.ID, runs[0].ID)
	tassert.Equal(t, first.ID, runs[1].ID)
	tassert.Equal(t, 2, runs[0].Scenarios)
}

func TestListRuns_Limit(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.SaveReport(ctx, NewRun(time.Now(), "test.exe", i), report.New(nil)))
	}

	runs, err := a.ListRuns(ctx, 2)
	require.NoError(t, err)
	tassert.Len(t, runs, 2)
}

func TestSaveReport_DuplicateRunID(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	run := NewRun(time.Now(), "test.exe", 1)
	require.NoError(t, a.SaveReport(ctx, run, report.New(nil)))
	tassert.Error(t, a.SaveReport(ctx, run, report.New(nil)))
}

func TestNewRun_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	run := NewRun(time.Date(2026, 8, 24, 18, 0, 0, 0, loc), "test.exe", 1)

	tassert.Equal(t, time.UTC, run.StartedAt.Location())
	tassert.NotEmpty(t, run.ID)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	a, err := Open(path)
	require.NoError(t, err)
	run := NewRun(time.Now(), "test.exe", 1)
	require.NoError(t, a.SaveReport(ctx, run, sampleReport()))
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	defer a.Close()

	runs, err := a.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	tassert.Equal(t, run.ID, runs[0].ID)
}
