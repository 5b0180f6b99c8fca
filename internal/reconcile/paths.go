package reconcile

import "path/filepath"

// Paths locates the project files under the database directory.
type Paths struct {
	Root       string
	Schema     string
	Migrations string
	State      string
	Setup      string
	Seed       string
	Tests      string
}

// NewPaths returns the standard layout rooted at root (usually "database").
func NewPaths(root string) Paths {
	return Paths{
		Root:       root,
		Schema:     filepath.Join(root, "schema"),
		Migrations: filepath.Join(root, "migrations"),
		State:      filepath.Join(root, ".surrealkit"),
		Setup:      filepath.Join(root, "setup.surql"),
		Seed:       filepath.Join(root, "seed.surql"),
		Tests:      filepath.Join(root, "tests"),
	}
}

// SchemaSnapshot is the desired schema as of the last commit.
func (p Paths) SchemaSnapshot() string { return filepath.Join(p.State, "schema_snapshot.json") }

// CatalogSnapshot is the catalog the committed migrations produce.
func (p Paths) CatalogSnapshot() string { return filepath.Join(p.State, "catalog_snapshot.json") }

// SchemaFiles is the source file list as of the last commit.
func (p Paths) SchemaFiles() string { return filepath.Join(p.State, "schema_files.json") }

// History is the local run history database.
func (p Paths) History() string { return filepath.Join(p.State, "history.db") }

// Suites is the test suite directory.
func (p Paths) Suites() string { return filepath.Join(p.Tests, "suites") }

// Fixtures is the test fixture directory.
func (p Paths) Fixtures() string { return filepath.Join(p.Tests, "fixtures") }
