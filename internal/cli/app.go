package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/config"
	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/store"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// app is the per-invocation context shared by commands: resolved
// configuration, logger, output formatter and database dialer.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    *OutputFormatter
	dialer surreal.Dialer
}

// load resolves configuration for cmd and builds the shared context.
func (o *RootOptions) load(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: o.ConfigFile,
		EnvFile:    o.EnvFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}

	level := parseLevel(cfg.LogLevel)
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(cmd.ErrOrStderr(), level, o.Format)
	logger.Debug("configuration loaded", "file", cfg.File, "target", cfg.Target(), "dir", cfg.Project.Dir)

	dialer := o.dialer
	if dialer == nil {
		dialer = surreal.SDKDialer{Endpoint: cfg.Database.Host}
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		out: &OutputFormatter{
			Format:    o.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   o.Verbose,
		},
		dialer: dialer,
	}, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes text logs, or JSON logs when the output format is JSON.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// connect opens a root session on the configured namespace and database.
func (a *app) connect(ctx context.Context) (surreal.Conn, error) {
	target := a.cfg.Target()
	conn, err := a.dialer.Dial(ctx)
	if err != nil {
		return nil, errs.Execution(target, "cannot connect to "+a.cfg.Database.Host, err)
	}
	creds := surreal.Credentials{Username: a.cfg.Database.User, Password: a.cfg.Database.Password}
	if _, err := conn.SignIn(ctx, creds); err != nil {
		_ = conn.Close(ctx)
		return nil, errs.Execution(target, "root signin failed", err)
	}
	if err := conn.Use(ctx, a.cfg.Database.Namespace, a.cfg.Database.Name); err != nil {
		_ = conn.Close(ctx)
		return nil, errs.Execution(target, "cannot select namespace and database", err)
	}
	a.logger.Debug("connected", "host", a.cfg.Database.Host, "target", target)
	return conn, nil
}

// history opens the local run history, creating the state directory.
func (a *app) history() (*store.Store, error) {
	path := a.cfg.HistoryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return store.Open(path)
}

// reconciler returns a Reconciler on db, which is nil for offline
// operations. Events are recorded in st when it is not nil.
func (a *app) reconciler(db surreal.Querier, st *store.Store) *reconcile.Reconciler {
	r := reconcile.New(a.cfg.Paths(), db, a.logger)
	r.Target = a.cfg.Target()
	if a.cfg.Owner != "" {
		r.Owner = a.cfg.Owner
	}
	r.Version = Version().String()
	r.Detector.Getenv = a.cfg.Getenv
	if st != nil {
		r.Auditor = st
	}
	return r
}

// withReconciler connects to the target, opens the history store and runs
// fn. A history store that cannot be opened is logged and skipped.
func (a *app) withReconciler(ctx context.Context, fn func(*reconcile.Reconciler, surreal.Conn) error) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	st, err := a.history()
	if err != nil {
		a.logger.Warn("history unavailable", "error", err)
		st = nil
	} else {
		defer st.Close()
	}
	return fn(a.reconciler(conn, st), conn)
}

// rel shortens path for display relative to the working directory.
func rel(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if r, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return path
}
