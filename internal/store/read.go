package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by ReadRun for an unknown id.
var ErrNotFound = errors.New("not found")

const runColumns = `id, scope_run_id, target, started_at, finished_at,
	suites_total, suites_passed, suites_failed,
	cases_total, cases_passed, cases_failed, cases_skipped`

// RecentRuns returns up to limit runs, newest first. Case results are not
// loaded. Returns an empty slice (not nil) when there is no history.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run with its case results in seq order.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, suite, file, name, kind, status, duration_ms, error
		FROM case_results
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return Run{}, fmt.Errorf("query case results: %w", err)
	}
	defer rows.Close()

	run.Cases = []CaseResult{}
	for rows.Next() {
		var (
			c  CaseResult
			ms int64
		)
		if err := rows.Scan(&c.Seq, &c.Suite, &c.File, &c.Name, &c.Kind, &c.Status, &ms, &c.Error); err != nil {
			return Run{}, fmt.Errorf("scan case result: %w", err)
		}
		c.Duration = time.Duration(ms) * time.Millisecond
		run.Cases = append(run.Cases, c)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate case results: %w", err)
	}
	return run, nil
}

// RecentEvents returns up to limit reconciliation events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target, owner, status, summary, objects, at
		FROM reconcile_events
		ORDER BY at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e           Event
			objects, at string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Target, &e.Owner, &e.Status, &e.Summary, &objects, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Objects, err = unmarshalObjects(objects); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	err := row.Scan(&run.ID, &run.ScopeRunID, &run.Target, &started, &finished,
		&run.SuitesTotal, &run.SuitesPassed, &run.SuitesFailed,
		&run.CasesTotal, &run.CasesPassed, &run.CasesFailed, &run.CasesSkipped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, err
	}
	return run, nil
}
