package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// DefaultSetup is written to setup.surql when it is missing.
const DefaultSetup = `--
-- surrealkit setup: runs before schema sync and before every test scope
--
DEFINE TABLE IF NOT EXISTS _surrealkit_migration SCHEMALESS
	PERMISSIONS NONE;

DEFINE TABLE IF NOT EXISTS _surrealkit_sync SCHEMALESS
	PERMISSIONS NONE;

DEFINE TABLE IF NOT EXISTS _surrealkit_sync_meta SCHEMALESS
	PERMISSIONS NONE;
`

// DefaultSeed is written to seed.surql by Scaffold.
const DefaultSeed = "-- seed data\n"

// DefaultTestConfig is written to tests/config.toml by Scaffold.
const DefaultTestConfig = `[defaults]
timeout_ms = 10000

[actors.root]
kind = "root"
`

// DefaultSuite is written to tests/suites/smoke.toml by Scaffold.
const DefaultSuite = `name = "smoke"
tags = ["smoke"]

[[cases]]
name = "ledger_table_visible"
kind = "schema_metadata"
sql = "INFO FOR DB;"
contains = ["_surrealkit_migration"]
`

// Scaffold creates the project layout and default files. Existing files
// are left alone. It returns the files it created.
func Scaffold(p Paths) ([]string, error) {
	for _, dir := range []string{p.Schema, p.Migrations, p.State, p.Suites(), p.Fixtures()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	files := []struct{ path, content string }{
		{p.Seed, DefaultSeed},
		{p.Setup, DefaultSetup},
		{filepath.Join(p.Tests, "config.toml"), DefaultTestConfig},
		{filepath.Join(p.Suites(), "smoke.toml"), DefaultSuite},
	}
	var created []string
	for _, f := range files {
		ok, err := writeIfMissing(f.path, f.content)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, f.path)
		}
	}
	return created, nil
}

func writeIfMissing(path, content string) (bool, error) {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := fh.WriteString(content); err != nil {
		fh.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, fh.Close()
}

// LoadSetup returns the contents of setup.surql, creating it with
// DefaultSetup first when it is missing.
func LoadSetup(p Paths) (string, error) {
	if err := os.MkdirAll(filepath.Dir(p.Setup), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(p.Setup), err)
	}
	if _, err := writeIfMissing(p.Setup, DefaultSetup); err != nil {
		return "", err
	}
	data, err := os.ReadFile(p.Setup)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p.Setup, err)
	}
	return string(data), nil
}

// Setup runs setup.surql, creating it with DefaultSetup first when it is
// missing, then the internal DDL.
func (r *Reconciler) Setup(ctx context.Context) error {
	if err := r.requireDB("setup"); err != nil {
		return err
	}
	source, err := LoadSetup(r.Paths)
	if err != nil {
		return err
	}
	return r.RunSetup(ctx, source)
}

// RunSetup executes source as setup.surql, then the internal DDL. The
// project directory is not read or written.
func (r *Reconciler) RunSetup(ctx context.Context, source string) error {
	if err := r.requireDB("setup"); err != nil {
		return err
	}
	if _, err := surreal.ExecAll(ctx, r.DB, source, nil); err != nil {
		return errs.Execution(r.Paths.Setup, "execute file", err)
	}
	if err := Bootstrap(ctx, r.DB); err != nil {
		return err
	}
	r.Logger.Info("setup complete", "target", r.Target, "file", r.Paths.Setup)
	return nil
}

// Seed runs seed.surql. A missing file is a ConfigError unless optional is
// set, in which case it is skipped with a log line.
func (r *Reconciler) Seed(ctx context.Context, optional bool) error {
	if err := r.requireDB("seed"); err != nil {
		return err
	}
	if _, err := os.Stat(r.Paths.Seed); errors.Is(err, os.ErrNotExist) {
		if optional {
			r.Logger.Info("no seed file, skipping", "file", r.Paths.Seed)
			return nil
		}
		return errs.Config(r.Paths.Seed, "seed file not found")
	}
	if err := RunFile(ctx, r.DB, r.Paths.Seed); err != nil {
		return err
	}
	r.Logger.Info("seed complete", "target", r.Target, "file", r.Paths.Seed)
	return nil
}

// RunFile executes every statement of a .surql file as one query.
func RunFile(ctx context.Context, q surreal.Querier, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs.Config(path, "file not found")
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := surreal.ExecAll(ctx, q, string(data), nil); err != nil {
		return errs.Execution(path, "execute file", err)
	}
	return nil
}
