// Package schema turns SurrealQL into snapshots.
//
// Loader reads the declared schema from a directory of .surql files.
// Introspector reads the live catalog through INFO FOR statements. Both run
// every DEFINE statement through ParseDefinition so the two sides of a diff
// are normalized identically.
package schema

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// Extension is the file extension of schema sources.
const Extension = ".surql"

// Loader builds the desired-schema snapshot from source files.
type Loader struct {
	// Dir is the schema source directory, walked recursively.
	Dir    string
	Logger *slog.Logger
}

// Loaded is the result of loading a schema directory.
type Loaded struct {
	Snapshot *snapshot.Snapshot
	Files    *snapshot.FileSet

	// Contents maps the relative file path to its source, in load order.
	Contents map[string][]byte
}

// NewLoader returns a Loader for dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{Dir: dir, Logger: logger}
}

// Load reads every .surql file under Dir in sorted path order. A missing
// directory yields an empty snapshot.
func (l *Loader) Load() (*Loaded, error) {
	paths, err := l.sourcePaths()
	if err != nil {
		return nil, err
	}

	contents := make(map[string][]byte, len(paths))
	snap := snapshot.New()
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(l.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read schema file %s: %w", rel, err)
		}
		contents[rel] = data
		if err := ParseSource(snap, rel, string(data), l.Logger); err != nil {
			return nil, err
		}
	}

	l.Logger.Debug("schema loaded", "dir", l.Dir, "files", len(paths), "objects", snap.Len())
	return &Loaded{
		Snapshot: snap,
		Files:    snapshot.NewFileSet(contents),
		Contents: contents,
	}, nil
}

func (l *Loader) sourcePaths() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.Dir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), Extension) {
			return nil
		}
		rel, err := filepath.Rel(l.Dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk schema dir %s: %w", l.Dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ParseSource parses every statement in src and adds the tracked DEFINE
// objects to snap. Duplicate identities are a ConfigError.
func ParseSource(snap *snapshot.Snapshot, source, src string, logger *slog.Logger) error {
	for i, stmt := range SplitStatements(src) {
		obj, ok, err := ParseDefinition(stmt, source)
		if err != nil {
			return errs.WrapConfig(source, fmt.Sprintf("statement %d", i+1), err)
		}
		if !ok {
			if logger != nil {
				logger.Debug("statement not tracked", "source", source, "statement", i+1)
			}
			continue
		}
		if err := snap.Add(obj); err != nil {
			return errs.WrapConfig(obj.ID(), "duplicate schema object", err)
		}
	}
	return nil
}
