package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ForetagInc/surrealkit/internal/store"
)

// Report is the outcome of a test run.
type Report struct {
	RunID      string    `json:"run_id"`
	Target     string    `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	// Interrupted holds the cancellation cause when the run was stopped
	// from outside, for example by SIGINT.
	Interrupted string        `json:"interrupted,omitempty"`
	Summary     Summary       `json:"summary"`
	Suites      []SuiteResult `json:"suites"`
}

// Summary holds run-level counts.
type Summary struct {
	SuitesTotal   int `json:"suites_total"`
	SuitesPassed  int `json:"suites_passed"`
	SuitesFailed  int `json:"suites_failed"`
	SuitesSkipped int `json:"suites_skipped"`
	// SuitesInterrupted counts suites cut short with no failed case.
	SuitesInterrupted int `json:"suites_interrupted,omitempty"`
	CasesTotal        int `json:"cases_total"`
	CasesPassed       int `json:"cases_passed"`
	CasesFailed       int `json:"cases_failed"`
	CasesSkipped      int `json:"cases_skipped"`
}

// Passed reports whether the run completed and no suite and no case failed.
func (r *Report) Passed() bool {
	s := r.Summary
	return r.Interrupted == "" && s.SuitesFailed == 0 && s.SuitesInterrupted == 0 && s.CasesFailed == 0
}

func (r *Report) finish(at time.Time) {
	r.FinishedAt = at
	r.DurationMS = at.Sub(r.StartedAt).Milliseconds()
	if r.Suites == nil {
		r.Suites = []SuiteResult{}
	}
	var s Summary
	for _, suite := range r.Suites {
		s.SuitesTotal++
		switch suite.Status {
		case StatusPassed:
			s.SuitesPassed++
		case StatusSkipped:
			s.SuitesSkipped++
		case StatusInterrupted:
			s.SuitesInterrupted++
		default:
			s.SuitesFailed++
		}
		for _, c := range suite.Cases {
			s.CasesTotal++
			switch c.Status {
			case StatusPassed:
				s.CasesPassed++
			case StatusSkipped:
				s.CasesSkipped++
			default:
				s.CasesFailed++
			}
		}
	}
	r.Summary = s
}

// WriteText renders the human-readable report.
func (r *Report) WriteText(w io.Writer) error {
	tw := &textWriter{w: w}
	for _, suite := range r.Suites {
		tw.printf("%s %s (%s)\n", mark(suite.Status), suite.Name, suite.File)
		if suite.Error != "" {
			tw.printf("  error: %s\n", suite.Error)
		}
		for _, c := range suite.Cases {
			tw.printf("  %s %s [%s]", mark(c.Status), c.Name, c.Kind)
			if c.Status == StatusSkipped {
				tw.printf(" skipped\n")
				continue
			}
			tw.printf(" %dms\n", c.DurationMS)
			if c.Passed {
				continue
			}
			if c.Message != "" {
				tw.printf("      %s\n", c.Message)
			}
			for _, check := range c.Checks {
				if !check.Passed {
					tw.printf("      - %s: %s\n", check.Name, check.Message)
				}
			}
		}
	}

	s := r.Summary
	tw.printf("\nTest run summary:\n")
	tw.printf("  run:    %s\n", r.RunID)
	tw.printf("  suites: %d total, %d passed, %d failed, %d skipped", s.SuitesTotal, s.SuitesPassed, s.SuitesFailed, s.SuitesSkipped)
	if s.SuitesInterrupted > 0 {
		tw.printf(", %d interrupted", s.SuitesInterrupted)
	}
	tw.printf("\n")
	tw.printf("  cases:  %d total, %d passed, %d failed, %d skipped\n", s.CasesTotal, s.CasesPassed, s.CasesFailed, s.CasesSkipped)
	tw.printf("  time:   %dms\n", r.DurationMS)
	if r.Interrupted != "" {
		tw.printf("  interrupted: %s\n", r.Interrupted)
	}
	return tw.err
}

func mark(s Status) string {
	switch s {
	case StatusPassed:
		return "✓"
	case StatusSkipped:
		return "-"
	case StatusInterrupted:
		return "!"
	default:
		return "✗"
	}
}

// textWriter keeps the first write error.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

// WriteJSON writes the report as indented JSON to path, creating parent
// directories.
func (r *Report) WriteJSON(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ToRun converts the report into a history row.
func (r *Report) ToRun() store.Run {
	s := r.Summary
	run := store.Run{
		ScopeRunID:   r.RunID,
		Target:       r.Target,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		SuitesTotal:  s.SuitesTotal,
		SuitesPassed: s.SuitesPassed,
		SuitesFailed: s.SuitesFailed,
		CasesTotal:   s.CasesTotal,
		CasesPassed:  s.CasesPassed,
		CasesFailed:  s.CasesFailed,
		CasesSkipped: s.CasesSkipped,
	}
	seq := 0
	for _, suite := range r.Suites {
		for _, c := range suite.Cases {
			seq++
			run.Cases = append(run.Cases, store.CaseResult{
				Seq:      seq,
				Suite:    suite.Name,
				File:     suite.File,
				Name:     c.Name,
				Kind:     string(c.Kind),
				Status:   string(c.Status),
				Duration: c.Duration,
				Error:    c.Message,
			})
		}
	}
	return run
}
