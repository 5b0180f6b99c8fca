// Package reconcile drives schema reconciliation: sync against a live
// database, commit into migration artifacts, migrate, status reporting,
// setup and seed bootstrap, and the watch loop.
//
// Every operation follows the same shape. The desired snapshot is loaded
// from source, diffed against a reference (the stored sync reference, or
// the committed catalog snapshot), passed through the prune guard, and only
// then rendered and applied. A rejected change set executes nothing.
package reconcile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/user"
	"time"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/migration"
	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/store"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// Auditor receives reconciliation events. *store.Store implements it.
type Auditor interface {
	RecordEvent(ctx context.Context, e store.Event) error
}

// Reconciler runs reconciliation operations for one project and target.
type Reconciler struct {
	Paths Paths

	// DB is the target database. Commit never uses it.
	DB surreal.Querier

	// Target labels the database in logs, errors and audit events.
	Target string

	// Owner is recorded in sync metadata and audit events.
	Owner string

	// Version is stamped into generated migrations.
	Version string

	Logger   *slog.Logger
	Now      func() time.Time
	Guard    *guard.Guard
	Detector *guard.Detector

	// Auditor is optional.
	Auditor Auditor
}

// New returns a Reconciler with defaults filled in.
func New(paths Paths, db surreal.Querier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		Paths:    paths,
		DB:       db,
		Target:   "database",
		Owner:    DefaultOwner(),
		Version:  "dev",
		Logger:   logger,
		Now:      time.Now,
		Guard:    guard.New(logger),
		Detector: guard.NewDetector(db),
	}
}

// DefaultOwner is the OS user name, then the host name, then "unknown".
func DefaultOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

func (r *Reconciler) requireDB(op string) error {
	if r.DB == nil {
		return errs.Config(r.Target, "%s requires a database connection", op)
	}
	return nil
}

func (r *Reconciler) load() (*schema.Loaded, error) {
	return schema.NewLoader(r.Paths.Schema, r.Logger).Load()
}

func (r *Reconciler) ledger() *migration.Ledger {
	l := migration.NewLedger(r.DB)
	l.Now = r.Now
	return l
}

func (r *Reconciler) generator() *migration.Generator {
	g := migration.NewGenerator(r.Paths.Migrations, r.Version, r.Logger)
	g.Now = r.Now
	return g
}

func (r *Reconciler) detect(ctx context.Context, preset guard.Status) (guard.Status, error) {
	if preset != "" {
		return preset, nil
	}
	d := r.Detector
	if d == nil {
		d = guard.NewDetector(r.DB)
	}
	return d.Detect(ctx)
}

// audit records e, logging instead of failing when the history store is
// unavailable.
func (r *Reconciler) audit(ctx context.Context, e store.Event) {
	if r.Auditor == nil {
		return
	}
	if e.Target == "" {
		e.Target = r.Target
	}
	if e.Owner == "" {
		e.Owner = r.Owner
	}
	if e.At.IsZero() {
		e.At = r.Now()
	}
	if err := r.Auditor.RecordEvent(ctx, e); err != nil {
		r.Logger.Warn("failed to record history event", "kind", e.Kind, "error", err)
	}
}

// recordOverride writes the durable trace of an --allow-shared-prune use
// against the target: the last_prune_override metadata row and a history
// event.
func (r *Reconciler) recordOverride(ctx context.Context, op string, dec guard.Decision, status guard.Status) error {
	now := r.Now().UTC()
	err := WriteMeta(ctx, r.DB, MetaLastPruneOverride, map[string]any{
		"value":   op,
		"owner":   r.Owner,
		"status":  string(status),
		"at":      now.Format(time.RFC3339),
		"objects": toAny(dec.IDs()),
	})
	if err != nil {
		return err
	}
	r.auditOverride(ctx, op, dec, status, now)
	return nil
}

func (r *Reconciler) auditOverride(ctx context.Context, op string, dec guard.Decision, status guard.Status, at time.Time) {
	r.audit(ctx, store.Event{
		Kind:    store.EventPruneOverride,
		Status:  string(status),
		Summary: op + " with --allow-shared-prune",
		Objects: dec.IDs(),
		At:      at,
	})
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
