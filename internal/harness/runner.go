package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gosuri/uiprogress"
	"golang.org/x/sync/errgroup"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// ErrFailFast is the cancellation cause once a suite fails under fail-fast.
var ErrFailFast = errors.New("fail-fast: stopped after an earlier failure")

// Options control one test run.
type Options struct {
	Filter   Filter
	Parallel int
	FailFast bool

	SkipSetup bool
	SkipSync  bool
	SkipSeed  bool

	// KeepScopes leaves every allocated scope in place.
	KeepScopes bool

	// BaseURL and Timeout are resolved settings; see ResolveBaseURL and
	// ResolveTimeout.
	BaseURL string
	Timeout time.Duration
}

// Runner runs suites against one server, each in its own scope.
type Runner struct {
	Paths  reconcile.Paths
	Dialer surreal.Dialer
	Root   surreal.Credentials

	// Namespace and Database are the configured names scope names derive
	// from.
	Namespace string
	Database  string

	// Target labels the server in reports and history.
	Target string

	Logger    *slog.Logger
	Now       func() time.Time
	IDs       RunIDs
	HTTP      *http.Client
	LookupEnv func(string) (string, bool)

	// Progress, when set, receives a suite progress bar.
	Progress io.Writer
}

// NewRunner returns a Runner with defaults filled in.
func NewRunner(paths reconcile.Paths, dialer surreal.Dialer, root surreal.Credentials, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		Paths:     paths,
		Dialer:    dialer,
		Root:      root,
		Namespace: root.Namespace,
		Database:  root.Database,
		Target:    "database",
		Logger:    logger,
		Now:       time.Now,
		IDs:       UUIDRunIDs{},
		HTTP:      &http.Client{},
	}
}

// Run executes the suites of specs that opts selects and returns the
// report. Suite and case failures are part of the report; an error is
// returned only when the run could not start.
func (r *Runner) Run(ctx context.Context, specs *Specs, opts Options) (*Report, error) {
	runID := r.IDs.NewRunID()
	report := &Report{RunID: runID, Target: r.Target, StartedAt: r.Now()}
	suites, err := opts.Filter.Apply(specs.Suites)
	if err != nil {
		return nil, err
	}
	if len(suites) == 0 {
		r.Logger.Warn("no suites matched", "suite", opts.Filter.Suite, "case", opts.Filter.Case, "tags", opts.Filter.Tags)
		report.finish(r.Now())
		return report, nil
	}

	var desired *snapshot.Snapshot
	if !opts.SkipSync {
		loaded, err := schema.NewLoader(r.Paths.Schema, r.Logger).Load()
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		desired = loaded.Snapshot
	}

	// setup.surql is read once; suites never write to the project tree
	var setupSQL string
	if !opts.SkipSetup {
		src, err := reconcile.LoadSetup(r.Paths)
		if err != nil {
			return nil, fmt.Errorf("load setup: %w", err)
		}
		setupSQL = src
	}

	exec := &Executor{
		Paths:      r.Paths,
		Resolver:   &Resolver{Dialer: r.Dialer, Root: r.Root, LookupEnv: r.LookupEnv},
		Config:     specs.Config,
		Desired:    desired,
		SetupSQL:   setupSQL,
		Stages:     Stages{Setup: !opts.SkipSetup, Sync: !opts.SkipSync, Seed: !opts.SkipSeed},
		KeepScopes: opts.KeepScopes,
		BaseURL:    opts.BaseURL,
		Timeout:    opts.Timeout,
		HTTP:       r.HTTP,
		Logger:     r.Logger,
		Now:        r.Now,
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}
	r.Logger.Info("test run started", "run_id", runID, "suites", len(suites), "parallel", parallel)

	bar, stopProgress := r.progress(len(suites))
	defer stopProgress()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		mu      sync.Mutex
		results = make([]*SuiteResult, 0, len(suites))
	)
	g := new(errgroup.Group)
	g.SetLimit(parallel)
	for i, suite := range suites {
		scope := NewScope(r.Namespace, r.Database, runID, i+1, suite)
		g.Go(func() error {
			res := exec.Run(runCtx, suite, scope)
			if res.Status == StatusFailed && opts.FailFast {
				cancel(ErrFailFast)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			if bar != nil {
				bar.Incr()
			}
			r.Logger.Info("suite finished", "suite", res.Name, "status", res.Status, "duration", res.Duration)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].File < results[j].File })
	for _, res := range results {
		report.Suites = append(report.Suites, *res)
	}
	if ctx.Err() != nil {
		report.Interrupted = context.Cause(ctx).Error()
		r.Logger.Warn("test run interrupted", "run_id", runID, "cause", report.Interrupted)
	}
	report.finish(r.Now())
	r.Logger.Info("test run finished",
		"run_id", runID,
		"cases_passed", report.Summary.CasesPassed,
		"cases_failed", report.Summary.CasesFailed,
		"cases_skipped", report.Summary.CasesSkipped)
	return report, nil
}

// progress starts a suite progress bar on r.Progress. The returned bar is
// nil when progress is disabled.
func (r *Runner) progress(total int) (*uiprogress.Bar, func()) {
	if r.Progress == nil {
		return nil, func() {}
	}
	p := uiprogress.New()
	p.SetOut(r.Progress)
	bar := p.AddBar(total).AppendCompleted().PrependElapsed()
	bar.PrependFunc(func(b *uiprogress.Bar) string {
		return fmt.Sprintf("suites %d/%d", b.Current(), total)
	})
	p.Start()
	return bar, p.Stop
}
