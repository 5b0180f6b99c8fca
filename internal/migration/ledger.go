package migration

import (
	"context"
	"time"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// LedgerTable records applied migrations and syncs in the target database.
const LedgerTable = "_surrealkit_migration"

// LedgerDDL creates the ledger table. It is safe to run repeatedly.
const LedgerDDL = "DEFINE TABLE IF NOT EXISTS " + LedgerTable + " SCHEMALESS PERMISSIONS NONE;"

// EntryKind distinguishes migration rows from sync rows.
type EntryKind string

const (
	EntryMigration EntryKind = "migration"
	EntrySync      EntryKind = "sync"
)

// Entry is one ledger row.
type Entry struct {
	MigrationID string    `json:"migration_id"`
	Kind        EntryKind `json:"kind"`
	Name        string    `json:"name"`
	Checksum    string    `json:"checksum"`
	FromHash    string    `json:"from_hash"`
	ToHash      string    `json:"to_hash"`
	Seq         int       `json:"seq"`
	AppliedAt   string    `json:"applied_at"`
}

// Ledger reads and appends ledger rows.
type Ledger struct {
	Querier surreal.Querier
	Now     func() time.Time
}

// NewLedger returns a Ledger over q.
func NewLedger(q surreal.Querier) *Ledger {
	return &Ledger{Querier: q, Now: time.Now}
}

// Ensure creates the ledger table if needed.
func (l *Ledger) Ensure(ctx context.Context) error {
	if _, err := surreal.Exec(ctx, l.Querier, LedgerDDL, nil); err != nil {
		return errs.Execution(LedgerTable, "create migration ledger", err)
	}
	return nil
}

// Entries returns every ledger row in sequence order.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	v, err := surreal.Exec(ctx, l.Querier,
		"SELECT migration_id, kind, name, checksum, from_hash, to_hash, seq, applied_at FROM "+LedgerTable+" ORDER BY seq ASC;", nil)
	if err != nil {
		return nil, errs.Execution(LedgerTable, "read migration ledger", err)
	}
	var entries []Entry
	if err := surreal.Decode(surreal.Rows(v), &entries); err != nil {
		return nil, errs.Execution(LedgerTable, "decode migration ledger", err)
	}
	return entries, nil
}

// Append writes e with the next sequence number and returns the stored row.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Entry{}, err
	}
	e.Seq = 1
	if n := len(entries); n > 0 {
		e.Seq = entries[n-1].Seq + 1
	}
	if e.AppliedAt == "" {
		e.AppliedAt = l.Now().UTC().Format(time.RFC3339)
	}

	_, err = surreal.Exec(ctx, l.Querier, "CREATE "+LedgerTable+" CONTENT $entry;", map[string]any{
		"entry": map[string]any{
			"migration_id": e.MigrationID,
			"kind":         string(e.Kind),
			"name":         e.Name,
			"checksum":     e.Checksum,
			"from_hash":    e.FromHash,
			"to_hash":      e.ToHash,
			"seq":          e.Seq,
			"applied_at":   e.AppliedAt,
		},
	})
	if err != nil {
		return Entry{}, errs.Execution(e.MigrationID, "append migration ledger", err)
	}
	return e, nil
}

// Plan returns the artifacts that still need applying. It fails closed: an
// applied migration whose artifact is gone or was edited, or an unapplied
// artifact older than the newest applied one, is a ConfigError and nothing is
// planned.
func Plan(entries []Entry, artifacts []*Migration) ([]*Migration, error) {
	byID := make(map[string]*Migration, len(artifacts))
	for _, m := range artifacts {
		byID[m.ID] = m
	}

	applied := map[string]bool{}
	newest := ""
	for _, e := range entries {
		if e.Kind != EntryMigration {
			continue
		}
		m, ok := byID[e.MigrationID]
		if !ok {
			return nil, errs.Config(e.MigrationID, "applied migration has no artifact in the migrations directory")
		}
		if e.Checksum != "" && e.Checksum != m.Checksum {
			err := errs.Config(e.MigrationID, "migration artifact changed after it was applied")
			err.Expected, err.Actual = e.Checksum, m.Checksum
			return nil, err
		}
		applied[e.MigrationID] = true
		if e.MigrationID > newest {
			newest = e.MigrationID
		}
	}

	var pending []*Migration
	for _, m := range artifacts {
		if applied[m.ID] {
			continue
		}
		if m.ID < newest {
			err := errs.Config(m.ID, "migration is older than the newest applied migration %s", newest)
			err.Expected, err.Actual = "after "+newest, m.ID
			return nil, err
		}
		pending = append(pending, m)
	}
	return pending, nil
}
