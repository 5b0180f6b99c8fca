package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/migration"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/store"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// MigrateOptions controls Migrate.
type MigrateOptions struct {
	DryRun           bool
	AllowSharedPrune bool
	Status           guard.Status
}

// MigrateResult lists the pending artifacts and those applied.
type MigrateResult struct {
	Pending  []*migration.Migration
	Applied  []string
	Status   guard.Status
	Override bool
	DryRun   bool
}

// Migrate applies pending migration artifacts in identity order. The plan is
// validated against the ledger first; any inconsistency aborts before a
// statement runs.
func (r *Reconciler) Migrate(ctx context.Context, opts MigrateOptions) (*MigrateResult, error) {
	if err := r.requireDB("migrate"); err != nil {
		return nil, err
	}
	artifacts, err := migration.LoadDir(r.Paths.Migrations)
	if err != nil {
		return nil, err
	}
	ledger := r.ledger()
	entries, err := ledger.Entries(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := migration.Plan(entries, artifacts)
	if err != nil {
		return nil, err
	}
	res := &MigrateResult{Pending: pending, DryRun: opts.DryRun}

	var dec guard.Decision
	if items := destructiveItems(pending); len(items) > 0 {
		status, err := r.detect(ctx, opts.Status)
		if err != nil {
			return res, err
		}
		res.Status = status
		dec, err = r.Guard.CheckItems(r.Target, items, status, opts.AllowSharedPrune)
		if err != nil {
			return res, err
		}
		res.Override = dec.Override
	}

	if opts.DryRun || len(pending) == 0 {
		r.Logger.Info("migrations pending", "target", r.Target, "count", len(pending))
		return res, nil
	}

	if err := Bootstrap(ctx, r.DB); err != nil {
		return res, err
	}
	for _, m := range pending {
		for i, stmt := range m.Statements {
			if _, err := surreal.Exec(ctx, r.DB, stmt+";", nil); err != nil {
				r.Logger.Error("migration statement failed", "migration", m.ID, "index", i, "error", err)
				e := errs.Execution(m.ID, fmt.Sprintf("apply statement %d of %d", i+1, len(m.Statements)), err)
				e.Details = map[string]string{"statement": stmt}
				r.audit(ctx, store.Event{Kind: store.EventMigrate, Status: "failed", Summary: e.Error(), Objects: append(res.Applied, m.ID)})
				return res, e
			}
		}
		_, err := ledger.Append(ctx, migration.Entry{
			MigrationID: m.ID,
			Kind:        migration.EntryMigration,
			Name:        m.Name,
			Checksum:    m.Checksum,
			FromHash:    m.From,
			ToHash:      m.To,
		})
		if err != nil {
			return res, err
		}
		res.Applied = append(res.Applied, m.ID)
		r.Logger.Info("migration applied", "migration", m.ID, "statements", len(m.Statements))
	}

	// keep sync's reference in step when the committed catalog is exactly
	// what the last migration produced
	last := pending[len(pending)-1]
	catalog, err := snapshot.Load(r.Paths.CatalogSnapshot())
	if err != nil {
		return res, err
	}
	if last.To != "" && catalog.Hash() == last.To {
		if err := StoreReference(ctx, r.DB, catalog); err != nil {
			return res, err
		}
	}

	if err := r.touch(ctx, MetaLastMigrate, r.Now().UTC(), last.To); err != nil {
		return res, err
	}
	if dec.Override {
		if err := r.recordOverride(ctx, "migrate", dec, res.Status); err != nil {
			return res, err
		}
	}
	r.audit(ctx, store.Event{
		Kind:    store.EventMigrate,
		Status:  "applied",
		Summary: fmt.Sprintf("%d migration(s) applied", len(res.Applied)),
		Objects: res.Applied,
	})
	return res, nil
}

// destructiveItems lists the REMOVE statements of pending artifacts as
// <id>#<statement>, plus one entry per artifact flagged destructive for
// narrowing alters.
func destructiveItems(pending []*migration.Migration) []guard.Item {
	var items []guard.Item
	for _, m := range pending {
		found := false
		for i, stmt := range m.Statements {
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "REMOVE ") {
				items = append(items, guard.Item{ID: fmt.Sprintf("%s#%d", m.ID, i+1), Reason: stmt})
				found = true
			}
		}
		if m.Destructive && !found {
			items = append(items, guard.Item{ID: m.ID, Reason: "narrows existing definitions"})
		}
	}
	return items
}
