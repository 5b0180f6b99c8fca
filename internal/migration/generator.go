package migration

import (
	"io"
	"log/slog"
	"time"

	"github.com/ForetagInc/surrealkit/internal/diff"
	"github.com/ForetagInc/surrealkit/internal/errs"
)

// Generator turns change sets into migration artifacts.
type Generator struct {
	Dir     string
	Version string
	Now     func() time.Time
	Logger  *slog.Logger
	Render  RenderOptions
}

// NewGenerator returns a Generator writing into dir.
func NewGenerator(dir, version string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{
		Dir:     dir,
		Version: version,
		Now:     time.Now,
		Logger:  logger,
		// commit never talks to the server; API removal is assumed supported
		Render: RenderOptions{RemoveAPI: true},
	}
}

// Build renders cs into an unsaved Migration. An empty change set is a
// ConfigError: there is nothing to commit.
func (g *Generator) Build(name string, cs *diff.ChangeSet) (*Migration, error) {
	if name == "" {
		return nil, errs.Config("migration", "migration name is required")
	}
	if cs.Empty() {
		return nil, errs.Config(name, "no schema changes to commit")
	}
	stmts, err := Statements(cs, g.Render)
	if err != nil {
		return nil, err
	}
	now := g.Now().UTC().Truncate(time.Second)
	return &Migration{
		ID:          NewID(now, name),
		Name:        name,
		CreatedAt:   now,
		From:        cs.From,
		To:          cs.To,
		Destructive: cs.IsDestructive(),
		Checksum:    Checksum(stmts),
		Generator:   "surrealkit " + g.Version,
		Statements:  stmts,
	}, nil
}

// Generate builds and writes the artifact.
func (g *Generator) Generate(name string, cs *diff.ChangeSet) (*Migration, error) {
	m, err := g.Build(name, cs)
	if err != nil {
		return nil, err
	}
	if err := m.Write(g.Dir); err != nil {
		return nil, err
	}
	g.Logger.Info("migration written",
		"id", m.ID,
		"statements", len(m.Statements),
		"destructive", m.Destructive,
		"path", m.Path)
	return m, nil
}
