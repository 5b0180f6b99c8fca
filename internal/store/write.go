package store

import (
	"context"
	"fmt"
	"time"
)

// WriteRun inserts a run and its case results in one transaction. A run
// without an ID is assigned a fresh TypeID, which is returned.
func (s *Store) WriteRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		id, err := NewID(PrefixRun)
		if err != nil {
			return "", fmt.Errorf("write run: %w", err)
		}
		run.ID = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("write run: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, scope_run_id, target, started_at, finished_at, duration_ms,
		 suites_total, suites_passed, suites_failed,
		 cases_total, cases_passed, cases_failed, cases_skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ScopeRunID,
		run.Target,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Duration().Milliseconds(),
		run.SuitesTotal,
		run.SuitesPassed,
		run.SuitesFailed,
		run.CasesTotal,
		run.CasesPassed,
		run.CasesFailed,
		run.CasesSkipped,
	)
	if err != nil {
		return "", fmt.Errorf("write run: %w", err)
	}

	for i, c := range run.Cases {
		seq := c.Seq
		if seq == 0 {
			seq = i + 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO case_results
			(run_id, seq, suite, file, name, kind, status, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, seq, c.Suite, c.File, c.Name, c.Kind, c.Status, c.Duration.Milliseconds(), c.Error)
		if err != nil {
			return "", fmt.Errorf("write case result %s/%s: %w", c.Suite, c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("write run: commit: %w", err)
	}
	return run.ID, nil
}

// RecordEvent appends a reconciliation event. Missing ID and time are
// filled in.
func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	if e.ID == "" {
		id, err := NewID(PrefixEvent)
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		e.ID = id
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	objects, err := marshalObjects(e.Objects)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconcile_events
		(id, kind, target, owner, status, summary, objects, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.Kind, e.Target, e.Owner, e.Status, e.Summary, objects, formatTime(e.At))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
