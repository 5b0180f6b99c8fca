package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/diff"
	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/migration"
	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/store"
)

// CommitOptions controls Commit.
type CommitOptions struct {
	DryRun           bool
	Prune            bool
	AllowSharedPrune bool
}

// CommitResult describes a commit. Migration is nil when the catalog did
// not change.
type CommitResult struct {
	ChangeSet    *diff.ChangeSet
	Migration    *migration.Migration
	FilesChanged bool
}

// committed is the state recorded by the previous commit.
type committed struct {
	schema  *snapshot.Snapshot
	catalog *snapshot.Snapshot
	files   *snapshot.FileSet
}

func (r *Reconciler) loadCommitted() (*committed, error) {
	s, err := snapshot.Load(r.Paths.SchemaSnapshot())
	if err != nil {
		return nil, errs.WrapConfig(r.Paths.SchemaSnapshot(), "unreadable schema snapshot", err)
	}
	c, err := snapshot.Load(r.Paths.CatalogSnapshot())
	if err != nil {
		return nil, errs.WrapConfig(r.Paths.CatalogSnapshot(), "unreadable catalog snapshot", err)
	}
	f, err := snapshot.LoadFileSet(r.Paths.SchemaFiles())
	if err != nil {
		return nil, errs.WrapConfig(r.Paths.SchemaFiles(), "unreadable schema file snapshot", err)
	}
	return &committed{schema: s, catalog: c, files: f}, nil
}

// Commit turns the difference between the schema sources and the committed
// catalog snapshot into a migration artifact. It never touches a database.
//
// With DryRun it writes nothing and returns a DriftError when the sources
// moved away from the committed state.
func (r *Reconciler) Commit(ctx context.Context, name string, opts CommitOptions) (*CommitResult, error) {
	loaded, err := r.load()
	if err != nil {
		return nil, err
	}
	prev, err := r.loadCommitted()
	if err != nil {
		return nil, err
	}
	cs, err := diff.Diff(loaded.Snapshot, prev.catalog, diff.Options{Prune: opts.Prune})
	if err != nil {
		return nil, err
	}
	res := &CommitResult{ChangeSet: cs, FilesChanged: !loaded.Files.Equal(prev.files)}

	if opts.DryRun {
		return res, r.drift(res, prev, loaded)
	}

	// a committed artifact can later run against any target, so it is
	// checked as if the target were shared
	dec, err := r.Guard.Check(r.Paths.Migrations, cs, guard.StatusShared, opts.AllowSharedPrune)
	if err != nil {
		return res, err
	}

	if !cs.Empty() {
		m, err := r.generator().Generate(name, cs)
		if err != nil {
			return res, err
		}
		res.Migration = m
		if err := snapshot.Save(r.Paths.CatalogSnapshot(), cs.Target); err != nil {
			return res, err
		}
	} else {
		r.Logger.Info("no schema changes to commit", "schema", r.Paths.Schema)
	}

	if !cs.Empty() || res.FilesChanged || prev.schema.Hash() != loaded.Snapshot.Hash() {
		if err := snapshot.Save(r.Paths.SchemaSnapshot(), loaded.Snapshot); err != nil {
			return res, err
		}
		if err := snapshot.SaveFileSet(r.Paths.SchemaFiles(), loaded.Files); err != nil {
			return res, err
		}
	}

	if dec.Override {
		r.auditOverride(ctx, "commit", dec, guard.StatusShared, r.Now().UTC())
	}
	if res.Migration != nil {
		r.audit(ctx, store.Event{
			Kind:    store.EventCommit,
			Target:  r.Paths.Migrations,
			Status:  "committed",
			Summary: cs.Summary(),
			Objects: []string{res.Migration.ID},
		})
	}
	return res, nil
}

// drift reports a DriftError when the sources differ from the committed
// state. The error carries a unified diff of the snapshot files.
func (r *Reconciler) drift(res *CommitResult, prev *committed, loaded *schema.Loaded) error {
	if res.ChangeSet.Empty() && !res.FilesChanged {
		return nil
	}

	var b strings.Builder
	if res.FilesChanged {
		before, err := prev.files.Encode()
		if err != nil {
			return err
		}
		after, err := loaded.Files.Encode()
		if err != nil {
			return err
		}
		b.WriteString(migration.UnifiedDiff("committed/schema_files.json", "source/schema_files.json", before, after))
	}
	before, err := prev.schema.Encode()
	if err != nil {
		return err
	}
	after, err := loaded.Snapshot.Encode()
	if err != nil {
		return err
	}
	b.WriteString(migration.UnifiedDiff("committed/schema_snapshot.json", "source/schema_snapshot.json", before, after))

	msg := "schema sources differ from the committed snapshot"
	if !res.ChangeSet.Empty() {
		msg = fmt.Sprintf("%s; uncommitted changes: %s", msg, res.ChangeSet.Summary())
	}
	return errs.Drift(r.Paths.Schema, msg, b.String())
}
