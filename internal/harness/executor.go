package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// Status is the outcome of a case or suite.
type Status string

// Statuses.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusInterrupted marks a suite whose remaining cases were skipped
	// after cancellation. None of its cases failed.
	StatusInterrupted Status = "interrupted"
)

// CaseResult is the outcome of one case.
type CaseResult struct {
	Name       string        `json:"name"`
	Kind       CaseKind      `json:"kind"`
	Actor      string        `json:"actor"`
	Status     Status        `json:"status"`
	Passed     bool          `json:"passed"`
	Message    string        `json:"message,omitempty"`
	Checks     []Check       `json:"checks,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// SuiteResult is the outcome of one suite.
type SuiteResult struct {
	Name       string        `json:"name"`
	File       string        `json:"file"`
	Namespace  string        `json:"namespace,omitempty"`
	Database   string        `json:"database,omitempty"`
	Status     Status        `json:"status"`
	Passed     bool          `json:"passed"`
	Error      string        `json:"error,omitempty"`
	Cases      []CaseResult  `json:"cases"`
	DurationMS int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// finish derives the suite status from its cases and error. Skipped cases
// never fail a suite on their own.
func (r *SuiteResult) finish(d time.Duration) {
	r.Duration = d
	r.DurationMS = d.Milliseconds()
	failed := r.Error != ""
	started, skipped := false, false
	for _, c := range r.Cases {
		switch c.Status {
		case StatusSkipped:
			skipped = true
		case StatusPassed:
			started = true
		default:
			started = true
			failed = true
		}
	}
	switch {
	case failed:
		r.Status = StatusFailed
	case !started:
		r.Status = StatusSkipped
	case skipped:
		r.Status = StatusInterrupted
	default:
		r.Status = StatusPassed
	}
	r.Passed = r.Status == StatusPassed
}

// skipCases marks cases as skipped with reason.
func skipCases(cases []Case, reason string) []CaseResult {
	out := make([]CaseResult, len(cases))
	for i, c := range cases {
		h := c.Header()
		out[i] = CaseResult{Name: h.Name, Kind: h.Kind, Actor: h.ActorName(), Status: StatusSkipped, Message: reason}
	}
	return out
}

// Stages selects the optional suite stages.
type Stages struct {
	Setup bool
	Sync  bool
	Seed  bool
}

// Executor runs one suite through its lifecycle:
// allocate scope, setup, sync, seed, fixtures, actors, cases, teardown.
type Executor struct {
	Paths    reconcile.Paths
	Resolver *Resolver
	Config   *Config

	// Desired is the schema applied by the sync stage.
	Desired *snapshot.Snapshot
	// SetupSQL is the setup.surql source run by the setup stage.
	SetupSQL string
	Stages   Stages

	// KeepScopes leaves the scope in place for inspection.
	KeepScopes bool

	BaseURL string
	Timeout time.Duration
	HTTP    *http.Client
	Logger  *slog.Logger
	Now     func() time.Time
}

// bounded returns a context that ignores parent cancellation but expires
// after the executor timeout. In-flight calls finish or time out instead
// of being cut off mid-request.
func (e *Executor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Run executes suite in scope. Cancellation of ctx stops scheduling further
// stages and cases; the scope is still torn down once allocated.
func (e *Executor) Run(ctx context.Context, suite *Suite, scope Scope) *SuiteResult {
	start := e.Now()
	res := &SuiteResult{Name: suite.Label(), File: suite.File, Namespace: scope.Namespace, Database: scope.Database}
	logger := e.Logger.With("suite", suite.Label(), "scope", scope.String())

	abort := func(err error) *SuiteResult {
		res.Error = err.Error()
		res.Cases = skipCases(suite.Cases, "suite setup failed: "+err.Error())
		logger.Warn("suite aborted", "error", err)
		return res
	}
	defer func() { res.finish(e.Now().Sub(start)) }()

	if ctx.Err() != nil {
		res.Cases = skipCases(suite.Cases, context.Cause(ctx).Error())
		return res
	}

	// Pending -> ScopeAllocated
	stageCtx, cancel := e.bounded(ctx)
	root, err := e.Resolver.RootSession(stageCtx, scope)
	if err == nil {
		err = allocate(stageCtx, root.Conn, scope)
		if err != nil {
			// the namespace may exist even though the database does not
			if rerr := release(stageCtx, root.Conn, scope); rerr != nil {
				logger.Warn("release after failed allocation", "error", rerr)
			}
			_ = root.Conn.Close(stageCtx)
		}
	}
	cancel()
	if err != nil {
		return abort(err)
	}
	defer e.teardown(ctx, root.Conn, scope, res, logger)

	// Setup -> Sync -> Seed
	r := reconcile.New(e.Paths, root.Conn, logger)
	r.Target = scope.String()
	stages := []struct {
		name    string
		enabled bool
		run     func(context.Context) error
	}{
		{"setup", e.Stages.Setup, func(ctx context.Context) error { return r.RunSetup(ctx, e.SetupSQL) }},
		{"sync", e.Stages.Sync && e.Desired != nil, func(ctx context.Context) error {
			_, err := r.SyncSnapshot(ctx, e.Desired, reconcile.SyncOptions{Prune: true, Status: guard.StatusEphemeral})
			return err
		}},
		{"seed", e.Stages.Seed, func(ctx context.Context) error { return r.Seed(ctx, true) }},
		{"fixtures", true, func(ctx context.Context) error { return e.rootFixtures(ctx, root.Conn, suite) }},
	}
	for _, st := range stages {
		if !st.enabled {
			continue
		}
		if ctx.Err() != nil {
			res.Cases = skipCases(suite.Cases, context.Cause(ctx).Error())
			return res
		}
		stageCtx, cancel := e.bounded(ctx)
		err := st.run(stageCtx)
		cancel()
		if err != nil {
			return abort(fmt.Errorf("%s: %w", st.name, err))
		}
		logger.Debug("stage complete", "stage", st.name)
	}

	// Actors and actor fixtures
	stageCtx, cancel = e.bounded(ctx)
	var global map[string]ActorSpec
	if e.Config != nil {
		global = e.Config.Actors
	}
	sessions, err := e.Resolver.ResolveAll(stageCtx, MergeActors(global, suite.Actors), scope)
	if err == nil {
		err = e.actorFixtures(stageCtx, sessions, suite)
		if err != nil {
			sessions.Close(stageCtx)
		}
	}
	cancel()
	if err != nil {
		return abort(err)
	}
	defer sessions.Close(context.WithoutCancel(ctx))

	// Running
	env := &Env{Sessions: sessions, BaseURL: e.BaseURL, Timeout: e.Timeout, HTTP: e.HTTP}
	for i, c := range suite.Cases {
		if ctx.Err() != nil {
			res.Cases = append(res.Cases, skipCases(suite.Cases[i:], context.Cause(ctx).Error())...)
			break
		}
		cr := e.runCase(ctx, env, c)
		logger.Debug("case finished", "case", cr.Name, "status", cr.Status, "duration", cr.Duration)
		res.Cases = append(res.Cases, cr)
	}
	return res
}

// runCase evaluates one case under the executor timeout. A panicking
// evaluator fails the case instead of the run.
func (e *Executor) runCase(ctx context.Context, env *Env, c Case) (cr CaseResult) {
	h := c.Header()
	cr = CaseResult{Name: h.Name, Kind: h.Kind, Actor: h.ActorName()}
	start := e.Now()
	caseCtx, cancel := e.bounded(ctx)
	defer func() {
		cancel()
		if p := recover(); p != nil {
			e.Logger.Error("case panicked", "case", h.Name, "panic", p, "stack", string(debug.Stack()))
			cr.Passed, cr.Message, cr.Checks = false, fmt.Sprintf("evaluator panic: %v", p), nil
		}
		cr.Duration = e.Now().Sub(start)
		cr.DurationMS = cr.Duration.Milliseconds()
		cr.Status = StatusFailed
		if cr.Passed {
			cr.Status = StatusPassed
		}
	}()

	out := Evaluate(caseCtx, env, c)
	if !out.Passed && errors.Is(caseCtx.Err(), context.DeadlineExceeded) {
		out.Message = errs.Timeout(h.Name, fmt.Sprintf("case exceeded %s", e.timeout()), errors.New(out.Message)).Error()
	}
	cr.Passed, cr.Message, cr.Checks = out.Passed, out.Message, out.Checks
	return cr
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

// teardown removes the scope unless KeepScopes is set. A failure marks the
// suite failed without touching case results.
func (e *Executor) teardown(ctx context.Context, conn surreal.Conn, scope Scope, res *SuiteResult, logger *slog.Logger) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	defer conn.Close(ctx)

	if e.KeepScopes {
		logger.Info("keeping scope", "namespace", scope.Namespace, "database", scope.Database)
		return
	}
	if err := release(ctx, conn, scope); err != nil {
		logger.Warn("teardown failed", "error", err)
		if res.Error == "" {
			res.Error = "teardown: " + err.Error()
		}
	}
}

// fixtures returns global then suite fixtures with the directory their
// files resolve against.
func (e *Executor) fixtures(suite *Suite) []resolvedFixture {
	var out []resolvedFixture
	if e.Config != nil {
		for _, f := range e.Config.Fixtures {
			out = append(out, resolvedFixture{Fixture: f, dir: e.Paths.Tests})
		}
	}
	for _, f := range suite.Fixtures {
		out = append(out, resolvedFixture{Fixture: f, dir: suite.Dir})
	}
	return out
}

type resolvedFixture struct {
	Fixture
	dir string
}

func (e *Executor) rootFixtures(ctx context.Context, conn surreal.Conn, suite *Suite) error {
	for _, f := range e.fixtures(suite) {
		if !f.runsAsRoot() {
			continue
		}
		if err := applyFixture(ctx, conn, f); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) actorFixtures(ctx context.Context, sessions Sessions, suite *Suite) error {
	for _, f := range e.fixtures(suite) {
		if f.runsAsRoot() {
			continue
		}
		sess, err := sessions.Get(f.Actor)
		if err != nil {
			return fmt.Errorf("fixture %s: %w", f.Label(), err)
		}
		if sess.Conn == nil {
			return errs.Resolution(f.Actor, fmt.Sprintf("fixture %s: actor has no database session", f.Label()), nil)
		}
		if err := applyFixture(ctx, sess.Conn, f); err != nil {
			return err
		}
	}
	return nil
}

func applyFixture(ctx context.Context, q surreal.Querier, f resolvedFixture) error {
	if f.File != "" {
		path := f.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.dir, path)
		}
		if err := reconcile.RunFile(ctx, q, path); err != nil {
			return fmt.Errorf("fixture %s: %w", f.Label(), err)
		}
		return nil
	}
	if _, err := surreal.ExecAll(ctx, q, f.SQL, nil); err != nil {
		return errs.Execution("fixture "+f.Label(), "apply fixture", err)
	}
	return nil
}
