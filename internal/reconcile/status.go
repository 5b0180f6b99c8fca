package reconcile

import (
	"context"

	"github.com/ForetagInc/surrealkit/internal/diff"
	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/migration"
	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// StatusReport summarizes the project and, when a database is attached, the
// target.
type StatusReport struct {
	// Uncommitted is the diff between sources and the committed catalog.
	Uncommitted *diff.ChangeSet
	// FilesChanged reports source edits not yet committed.
	FilesChanged bool

	Applied []migration.Entry
	Pending []string

	// Live is set by a --live status.
	Live *LiveDrift
}

// LiveDrift compares object identities between the expected catalog and
// the live database. Definitions are not compared: the server normalizes
// them differently from source.
type LiveDrift struct {
	Expected string   `json:"expected"`
	Missing  []string `json:"missing"`
	Extra    []string `json:"extra"`
}

// Clean reports whether live and expected identities agree.
func (d *LiveDrift) Clean() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0
}

// Status reports committed-vs-source drift, applied and pending migrations
// and, with live set, catalog drift against the database.
func (r *Reconciler) Status(ctx context.Context, live bool) (*StatusReport, error) {
	loaded, err := r.load()
	if err != nil {
		return nil, err
	}
	prev, err := r.loadCommitted()
	if err != nil {
		return nil, err
	}
	cs, err := diff.Diff(loaded.Snapshot, prev.catalog, diff.Options{Prune: true})
	if err != nil {
		return nil, err
	}
	rep := &StatusReport{Uncommitted: cs, FilesChanged: !loaded.Files.Equal(prev.files)}

	if r.DB == nil {
		if live {
			return rep, errs.Config(r.Target, "status --live requires a database connection")
		}
		return rep, nil
	}

	artifacts, err := migration.LoadDir(r.Paths.Migrations)
	if err != nil {
		return rep, err
	}
	entries, err := r.ledger().Entries(ctx)
	if err != nil {
		return rep, err
	}
	rep.Applied = entries
	pending, err := migration.Plan(entries, artifacts)
	if err != nil {
		return rep, err
	}
	for _, m := range pending {
		rep.Pending = append(rep.Pending, m.ID)
	}

	if live {
		if rep.Live, err = r.liveDrift(ctx, prev.catalog); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// liveDrift compares the live catalog with the stored sync reference, or
// with the committed catalog when the target was never synced.
func (r *Reconciler) liveDrift(ctx context.Context, catalog *snapshot.Snapshot) (*LiveDrift, error) {
	expected, source := catalog, "catalog_snapshot.json"
	reference, err := LoadReference(ctx, r.DB)
	if err != nil {
		return nil, err
	}
	if reference.Len() > 0 {
		expected, source = reference, referenceRecord
	}

	actual, err := (&schema.Introspector{Querier: r.DB}).Introspect(ctx)
	if err != nil {
		return nil, err
	}
	d := &LiveDrift{Expected: source, Missing: []string{}, Extra: []string{}}
	for _, id := range expected.IDs() {
		if _, ok := actual.Get(id); !ok {
			d.Missing = append(d.Missing, id)
		}
	}
	for _, id := range actual.IDs() {
		if _, ok := expected.Get(id); !ok {
			d.Extra = append(d.Extra, id)
		}
	}
	return d, nil
}
