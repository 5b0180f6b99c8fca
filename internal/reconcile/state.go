package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/migration"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// SyncTable stores the reference snapshot of the last successful sync.
const SyncTable = "_surrealkit_sync"

const referenceRecord = SyncTable + ":catalog"

// Meta keys written into guard.MetaTable.
const (
	MetaShared            = "shared"
	MetaOwner             = "owner"
	MetaLastSync          = "last_sync"
	MetaLastMigrate       = "last_migrate"
	MetaLastPruneOverride = "last_prune_override"
)

// InternalDDL creates the bookkeeping tables. Every statement is idempotent.
var InternalDDL = []string{
	migration.LedgerDDL,
	"DEFINE TABLE IF NOT EXISTS " + SyncTable + " SCHEMALESS PERMISSIONS NONE;",
	"DEFINE TABLE IF NOT EXISTS " + guard.MetaTable + " SCHEMALESS PERMISSIONS NONE;",
}

// Bootstrap creates the internal tables on q.
func Bootstrap(ctx context.Context, q surreal.Querier) error {
	if _, err := surreal.ExecAll(ctx, q, strings.Join(InternalDDL, "\n"), nil); err != nil {
		return errs.Execution(SyncTable, "create internal tables", err)
	}
	return nil
}

// LoadReference returns the snapshot stored by the last successful sync. A
// target that was never synced yields an empty snapshot.
func LoadReference(ctx context.Context, q surreal.Querier) (*snapshot.Snapshot, error) {
	v, err := surreal.Exec(ctx, q, "SELECT * FROM ONLY "+referenceRecord+";", nil)
	if err != nil {
		var qe *surreal.QueryError
		if errors.As(err, &qe) && missingTable(qe.Message) {
			return snapshot.New(), nil
		}
		return nil, errs.Execution(referenceRecord, "read reference snapshot", err)
	}
	row, _ := v.(map[string]any)
	raw, _ := row["snapshot"].(string)
	if raw == "" {
		return snapshot.New(), nil
	}
	snap, err := snapshot.Decode([]byte(raw))
	if err != nil {
		return nil, errs.Execution(referenceRecord, "stored reference snapshot is unreadable", err)
	}
	return snap, nil
}

// StoreReference replaces the stored reference snapshot.
func StoreReference(ctx context.Context, q surreal.Querier, snap *snapshot.Snapshot) error {
	data, err := snap.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode reference snapshot: %w", err)
	}
	_, err = surreal.Exec(ctx, q, "UPSERT "+referenceRecord+" CONTENT $row;", map[string]any{
		"row": map[string]any{
			"hash":     snap.Hash(),
			"snapshot": string(data),
		},
	})
	if err != nil {
		return errs.Execution(referenceRecord, "store reference snapshot", err)
	}
	return nil
}

// WriteMeta upserts one metadata row.
func WriteMeta(ctx context.Context, q surreal.Querier, key string, row map[string]any) error {
	record := guard.MetaTable + ":" + key
	if _, err := surreal.Exec(ctx, q, "UPSERT "+record+" CONTENT $row;", map[string]any{"row": row}); err != nil {
		return errs.Execution(record, "write sync metadata", err)
	}
	return nil
}

// ReadMeta returns one metadata row, or nil when it does not exist.
func ReadMeta(ctx context.Context, q surreal.Querier, key string) (map[string]any, error) {
	record := guard.MetaTable + ":" + key
	v, err := surreal.Exec(ctx, q, "SELECT * FROM ONLY "+record+";", nil)
	if err != nil {
		var qe *surreal.QueryError
		if errors.As(err, &qe) && missingTable(qe.Message) {
			return nil, nil
		}
		return nil, errs.Execution(record, "read sync metadata", err)
	}
	row, _ := v.(map[string]any)
	return row, nil
}

// MarkShared records whether the target is shared. Detection reads it when
// SURREALKIT_SHARED_DB is unset.
func MarkShared(ctx context.Context, q surreal.Querier, shared bool) error {
	if err := Bootstrap(ctx, q); err != nil {
		return err
	}
	return WriteMeta(ctx, q, MetaShared, map[string]any{"value": shared})
}

func missingTable(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}
