package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit  int
	Events bool
}

// RunView is one test run in history output.
type RunView struct {
	ID          string     `json:"id"`
	Target      string     `json:"target"`
	StartedAt   time.Time  `json:"started_at"`
	DurationMS  int64      `json:"duration_ms"`
	CasesTotal  int        `json:"cases_total"`
	CasesPassed int        `json:"cases_passed"`
	CasesFailed int        `json:"cases_failed"`
	Skipped     int        `json:"cases_skipped"`
	Cases       []CaseView `json:"cases,omitempty"`
}

// CaseView is one case of a run.
type CaseView struct {
	Suite      string `json:"suite"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// EventView is one reconciliation event.
type EventView struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Target  string    `json:"target"`
	Owner   string    `json:"owner"`
	Status  string    `json:"status"`
	Summary string    `json:"summary"`
	Objects []string  `json:"objects"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded test runs and reconciliation events",
		Long: `List recent test runs from database/.surrealkit/history.db, newest first.
With a run id, show that run's cases. With --events, list syncs, migrations,
commits and prune overrides instead.

Examples:
  surrealkit history
  surrealkit history run_01jq3v6x2ffk8t0d7rmk3q1c2n
  surrealkit history --events --limit 50`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "list reconciliation events")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	if opts.Limit < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--limit must be at least 1, got %d", opts.Limit))
	}
	a, err := opts.load(cmd)
	if err != nil {
		return err
	}
	st, err := a.history()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer st.Close()
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	switch {
	case len(args) == 1:
		run, err := st.ReadRun(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return WrapExitError(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			return err
		}
		view := runView(run)
		for _, c := range run.Cases {
			view.Cases = append(view.Cases, CaseView{
				Suite:      c.Suite,
				Name:       c.Name,
				Kind:       c.Kind,
				Status:     c.Status,
				DurationMS: c.Duration.Milliseconds(),
				Error:      c.Error,
			})
		}
		if a.out.Format == "json" {
			return a.out.Success(view)
		}
		writeRunText(w, view)
		return nil

	case opts.Events:
		events, err := st.RecentEvents(ctx, opts.Limit)
		if err != nil {
			return err
		}
		views := make([]EventView, 0, len(events))
		for _, e := range events {
			views = append(views, EventView{
				At: e.At, Kind: e.Kind, Target: e.Target, Owner: e.Owner,
				Status: e.Status, Summary: e.Summary, Objects: nonNil(e.Objects),
			})
		}
		if a.out.Format == "json" {
			return a.out.Success(views)
		}
		if len(views) == 0 {
			fmt.Fprintln(w, "No reconciliation events recorded.")
			return nil
		}
		for _, e := range views {
			fmt.Fprintf(w, "%s  %-14s %-10s %s  %s (%s)\n",
				e.At.Local().Format(time.DateTime), e.Kind, e.Status, e.Target, e.Summary, e.Owner)
		}
		return nil

	default:
		runs, err := st.RecentRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		views := make([]RunView, 0, len(runs))
		for _, r := range runs {
			views = append(views, runView(r))
		}
		if a.out.Format == "json" {
			return a.out.Success(views)
		}
		if len(views) == 0 {
			fmt.Fprintln(w, "No test runs recorded.")
			return nil
		}
		for _, r := range views {
			fmt.Fprintf(w, "%s %s  %s  %s  %d/%d passed, %d failed, %d skipped  %dms\n",
				runMark(r), r.ID, r.StartedAt.Local().Format(time.DateTime), r.Target,
				r.CasesPassed, r.CasesTotal, r.CasesFailed, r.Skipped, r.DurationMS)
		}
		return nil
	}
}

func runView(r store.Run) RunView {
	return RunView{
		ID:          r.ID,
		Target:      r.Target,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration().Milliseconds(),
		CasesTotal:  r.CasesTotal,
		CasesPassed: r.CasesPassed,
		CasesFailed: r.CasesFailed,
		Skipped:     r.CasesSkipped,
	}
}

func runMark(r RunView) string {
	if r.CasesFailed > 0 {
		return "✗"
	}
	return "✓"
}

func writeRunText(w io.Writer, r RunView) {
	fmt.Fprintf(w, "%s %s  %s  %s  %dms\n", runMark(r), r.ID, r.StartedAt.Local().Format(time.DateTime), r.Target, r.DurationMS)
	suite := ""
	for _, c := range r.Cases {
		if c.Suite != suite {
			suite = c.Suite
			fmt.Fprintf(w, "  %s\n", suite)
		}
		mark := "✓"
		switch c.Status {
		case "skipped":
			mark = "-"
		case "failed":
			mark = "✗"
		}
		fmt.Fprintf(w, "    %s %s [%s] %dms\n", mark, c.Name, c.Kind, c.DurationMS)
		if c.Error != "" && c.Status != "passed" {
			fmt.Fprintf(w, "        %s\n", c.Error)
		}
	}
}
