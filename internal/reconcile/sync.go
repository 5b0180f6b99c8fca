package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ForetagInc/surrealkit/internal/diff"
	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/migration"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/store"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// SyncOptions controls Sync.
type SyncOptions struct {
	DryRun           bool
	Prune            bool
	AllowSharedPrune bool

	// Status skips detection when set. The test runner passes
	// guard.StatusEphemeral for scopes it allocated.
	Status guard.Status
}

// DefaultSyncOptions prunes objects removed from source.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{Prune: true}
}

// SyncResult describes a sync attempt. It is returned alongside errors so
// callers can report how far an apply got.
type SyncResult struct {
	ChangeSet  *diff.ChangeSet
	Statements []string
	Applied    int
	Status     guard.Status
	Override   bool
	DryRun     bool
}

// Sync reconciles the live database with the schema sources.
func (r *Reconciler) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if err := r.requireDB("sync"); err != nil {
		return nil, err
	}
	loaded, err := r.load()
	if err != nil {
		return nil, err
	}
	return r.SyncSnapshot(ctx, loaded.Snapshot, opts)
}

// SyncSnapshot reconciles the live database with desired.
//
// The reference snapshot is only replaced after every statement succeeded.
// A failure midway leaves it untouched, so the next sync re-plans from the
// last known good state; creates and alters are rendered with OVERWRITE and
// re-apply cleanly.
func (r *Reconciler) SyncSnapshot(ctx context.Context, desired *snapshot.Snapshot, opts SyncOptions) (*SyncResult, error) {
	if err := r.requireDB("sync"); err != nil {
		return nil, err
	}
	status, err := r.detect(ctx, opts.Status)
	if err != nil {
		return nil, err
	}
	reference, err := LoadReference(ctx, r.DB)
	if err != nil {
		return nil, err
	}
	cs, err := diff.Diff(desired, reference, diff.Options{Prune: opts.Prune})
	if err != nil {
		return nil, err
	}
	res := &SyncResult{ChangeSet: cs, Status: status, DryRun: opts.DryRun}

	dec, err := r.Guard.Check(r.Target, cs, status, opts.AllowSharedPrune)
	if err != nil {
		return res, err
	}
	res.Override = dec.Override

	render := migration.RenderOptions{RemoveAPI: true}
	if !opts.DryRun && dropsAPI(cs) {
		render = migration.ProbeCapabilities(ctx, r.DB)
	}
	res.Statements, err = migration.Statements(cs, render)
	if err != nil {
		return res, err
	}

	for _, id := range cs.Retained {
		r.Logger.Info("object retained (prune disabled)", "object", id)
	}
	if opts.DryRun {
		r.Logger.Info("sync plan", "target", r.Target, "changes", cs.Summary(), "status", string(status))
		return res, nil
	}

	if err := Bootstrap(ctx, r.DB); err != nil {
		return res, err
	}
	if err := r.apply(ctx, cs, res); err != nil {
		r.audit(ctx, store.Event{
			Kind:    store.EventSync,
			Status:  "failed",
			Summary: fmt.Sprintf("applied %d of %d statements: %v", res.Applied, len(res.Statements), err),
			Objects: opIDs(cs.Ops[:res.Applied+1]),
		})
		return res, err
	}

	now := r.Now().UTC()
	if !cs.Empty() {
		if err := StoreReference(ctx, r.DB, cs.Target); err != nil {
			return res, err
		}
		_, err := r.ledger().Append(ctx, migration.Entry{
			MigrationID: "sync_" + now.Format(migration.TimestampLayout),
			Kind:        migration.EntrySync,
			Name:        "sync",
			Checksum:    migration.Checksum(res.Statements),
			FromHash:    cs.From,
			ToHash:      cs.To,
		})
		if err != nil {
			return res, err
		}
	}
	if err := r.touch(ctx, MetaLastSync, now, cs.To); err != nil {
		return res, err
	}
	if dec.Override {
		if err := r.recordOverride(ctx, "sync", dec, status); err != nil {
			return res, err
		}
	}

	r.Logger.Info("sync complete", "target", r.Target, "changes", cs.Summary(), "statements", res.Applied)
	if !cs.Empty() {
		r.audit(ctx, store.Event{
			Kind:    store.EventSync,
			Status:  string(status),
			Summary: cs.Summary(),
			Objects: opIDs(cs.Ops),
			At:      now,
		})
	}
	return res, nil
}

// apply executes the rendered statements in order and stops at the first
// failure.
func (r *Reconciler) apply(ctx context.Context, cs *diff.ChangeSet, res *SyncResult) error {
	for i, stmt := range res.Statements {
		op := cs.Ops[i]
		if _, err := surreal.Exec(ctx, r.DB, stmt+";", nil); err != nil {
			r.Logger.Error("statement failed", "index", i, "object", op.ID, "error", err)
			e := errs.Execution(op.ID, fmt.Sprintf("apply statement %d of %d (%s)", i+1, len(res.Statements), op), err)
			e.Details = map[string]string{"statement": stmt}
			return e
		}
		res.Applied++
		r.Logger.Debug("statement applied", "index", i, "object", op.ID)
	}
	return nil
}

// touch updates the last_<op> and owner metadata rows.
func (r *Reconciler) touch(ctx context.Context, key string, now time.Time, hash string) error {
	at := now.Format(time.RFC3339)
	if err := WriteMeta(ctx, r.DB, key, map[string]any{"value": at, "owner": r.Owner, "hash": hash}); err != nil {
		return err
	}
	return WriteMeta(ctx, r.DB, MetaOwner, map[string]any{"value": r.Owner, "at": at})
}

func dropsAPI(cs *diff.ChangeSet) bool {
	for _, op := range cs.Ops {
		if op.Type == diff.OpDrop && op.Kind() == snapshot.KindAPI {
			return true
		}
	}
	return false
}

func opIDs(ops []diff.ChangeOp) []string {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	return ids
}
