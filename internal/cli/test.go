package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/harness"
	"github.com/ForetagInc/surrealkit/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Suite     string   // suite glob (name or file)
	Case      string   // case glob
	Tags      []string // every tag must be present
	FailFast  bool
	Parallel  int
	JSONOut   string
	SkipSetup bool
	SkipSync  bool
	SkipSeed  bool
	BaseURL   string
	TimeoutMS int
	Keep      bool
	Progress  bool
	NoHistory bool
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run database test suites in isolated scopes",
		Long: `Run the suites in database/tests/suites. Each suite gets a fresh
namespace and database: setup.surql, a schema sync and seed.surql run first,
then fixtures, then the cases in order. Scopes are removed afterwards unless
--keep-scopes is set.

Exit codes:
  0 - All cases passed
  1 - One or more cases or suites failed
  2 - Command error (invalid suite files, bad flags, etc.)

Examples:
  surrealkit test
  surrealkit test --suite "orders*" --tag smoke --parallel 4
  surrealkit test --fail-fast --json-out reports/test.json
  surrealkit test --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Suite, "suite", "", "run suites whose name or file matches the glob")
	f.StringVar(&opts.Case, "case", "", "run cases whose name matches the glob")
	f.StringArrayVar(&opts.Tags, "tag", nil, "run cases carrying the tag (repeatable)")
	f.BoolVar(&opts.FailFast, "fail-fast", false, "stop scheduling suites after the first failure")
	f.IntVar(&opts.Parallel, "parallel", 4, "number of suites run concurrently")
	f.StringVar(&opts.JSONOut, "json-out", "", "write the JSON report to this path")
	f.BoolVar(&opts.SkipSetup, "skip-setup", false, "skip setup.surql in test scopes")
	f.BoolVar(&opts.SkipSync, "skip-sync", false, "skip the schema sync in test scopes")
	f.BoolVar(&opts.SkipSeed, "skip-seed", false, "skip seed.surql in test scopes")
	f.StringVar(&opts.BaseURL, "base-url", "", "base URL for api_request cases")
	f.IntVar(&opts.TimeoutMS, "timeout-ms", 0, "timeout for each statement or request in milliseconds")
	f.BoolVar(&opts.Keep, "keep-scopes", false, "keep test namespaces for inspection")
	f.BoolVar(&opts.Progress, "progress", false, "show a suite progress bar on stderr")
	f.BoolVar(&opts.NoHistory, "no-history", false, "do not record the run in the local history")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions) error {
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--parallel must be at least 1, got %d", opts.Parallel))
	}
	a, err := opts.load(cmd)
	if err != nil {
		return err
	}
	paths := a.cfg.Paths()

	specs, err := harness.Load(paths.Tests)
	if err != nil {
		return err
	}
	a.logger.Debug("suites loaded", "suites", len(specs.Suites), "config", specs.ConfigFile)

	envTimeout := ""
	if a.cfg.Test.TimeoutMS > 0 {
		envTimeout = strconv.Itoa(a.cfg.Test.TimeoutMS)
	}
	runOpts := harness.Options{
		Filter:     harness.Filter{Suite: opts.Suite, Case: opts.Case, Tags: opts.Tags},
		Parallel:   opts.Parallel,
		FailFast:   opts.FailFast,
		SkipSetup:  opts.SkipSetup,
		SkipSync:   opts.SkipSync,
		SkipSeed:   opts.SkipSeed,
		KeepScopes: opts.Keep,
		BaseURL:    harness.ResolveBaseURL(opts.BaseURL, specs.Config.Defaults.BaseURL, a.cfg.Test.BaseURL, a.cfg.Database.Host),
		Timeout:    harness.ResolveTimeout(opts.TimeoutMS, specs.Config.Defaults.TimeoutMS, envTimeout),
	}

	runner := harness.NewRunner(paths, a.dialer, a.cfg.Credentials(), a.logger)
	runner.Target = a.cfg.Target()
	if opts.Progress && a.out.Format != "json" {
		runner.Progress = cmd.ErrOrStderr()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := runner.Run(ctx, specs, runOpts)
	if err != nil {
		return err
	}

	if opts.JSONOut != "" {
		if err := report.WriteJSON(opts.JSONOut); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
		a.logger.Info("report written", "path", opts.JSONOut)
	}
	if !opts.NoHistory {
		recordRun(cmd, a, report)
	}

	if a.out.Format == "json" {
		if err := a.out.Success(report); err != nil {
			return err
		}
	} else if err := report.WriteText(cmd.OutOrStdout()); err != nil {
		return err
	}

	if !report.Passed() {
		s := report.Summary
		msg := fmt.Sprintf("%d case(s) failed, %d suite(s) failed", s.CasesFailed, s.SuitesFailed)
		if report.Interrupted != "" {
			msg = "test run interrupted: " + report.Interrupted
		}
		return &ExitError{Code: ExitFailure, Message: msg, Reported: true}
	}
	return nil
}

// recordRun stores the report in the history database. Failures are logged
// and never change the outcome of the run.
func recordRun(cmd *cobra.Command, a *app, report *harness.Report) {
	st, err := a.history()
	if err != nil {
		a.logger.Warn("history unavailable", "error", err)
		return
	}
	defer st.Close()
	ctx := context.WithoutCancel(cmd.Context())
	id, err := st.WriteRun(ctx, report.ToRun())
	if err != nil {
		a.logger.Warn("failed to record run", "error", err)
		return
	}
	removed, err := st.Prune(ctx, store.DefaultRetention)
	if err != nil {
		a.logger.Warn("failed to prune history", "error", err)
	}
	a.logger.Debug("run recorded", "id", id, "pruned", removed)
}
