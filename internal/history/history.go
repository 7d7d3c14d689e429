// Package history archives harness run reports in a SQLite database so
// results can be compared across runs after the working directory's
// summary log has been overwritten.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/clrdiag/sostest/internal/report"
)

//go:embed schema.sql
var schemaSQL string

// Run identifies one archived harness run.
type Run struct {
	ID        string
	StartedAt time.Time
	Assembly  string
	Scenarios int
}

// NewRun creates a run record with a fresh time-sortable UUIDv7 ID.
func NewRun(startedAt time.Time, assembly string, scenarios int) Run {
	return Run{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StartedAt: startedAt.UTC(),
		Assembly:  assembly,
		Scenarios: scenarios,
	}
}

// Archive is a handle to the run-history database.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive at path. WAL mode and a busy
// timeout are applied; the connection pool is capped at one writer.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SaveReport stores one run and its per-suite counters atomically.
func (a *Archive) SaveReport(ctx context.Context, run Run, rep *report.Report) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, assembly, scenarios)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt.Format(time.RFC3339), run.Assembly, run.Scenarios)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	for i, s := range rep.Suites {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_suites (run_id, seq, name, pass, fail, complete)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, s.Name, s.Pass, s.Fail, s.Complete)
		if err != nil {
			return fmt.Errorf("save suite %q: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A non-positive
// limit returns everything.
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, assembly, scenarios FROM runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &started, &r.Assembly, &r.Scenarios); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, err = time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, fmt.Errorf("parse run timestamp %q: %w", started, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetReport reconstructs the archived report for one run. Only suite
// counters survive archiving; the TOTAL pseudo-suite is recomputed.
func (a *Archive) GetReport(ctx context.Context, runID string) (*report.Report, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name, pass, fail, complete
		FROM run_suites WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", runID, err)
	}
	defer rows.Close()

	var suites []report.Suite
	for rows.Next() {
		var s report.Suite
		if err := rows.Scan(&s.Name, &s.Pass, &s.Fail, &s.Complete); err != nil {
			return nil, fmt.Errorf("scan suite: %w", err)
		}
		suites = append(suites, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get report %s: %w", runID, err)
	}
	if len(suites) == 0 {
		var n int
		if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&n); err != nil {
			return nil, fmt.Errorf("get report %s: %w", runID, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("run %s not found", runID)
		}
	}

	return report.New(suites), nil
}
