package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// InternalPrefix marks bookkeeping tables that never appear in snapshots.
const InternalPrefix = "_surrealkit"

// dbSections are the INFO FOR DB keys holding DEFINE statements.
var dbSections = []string{"analyzers", "functions", "params", "tables", "accesses", "users", "apis"}

// tableSections are the INFO FOR TABLE keys holding DEFINE statements.
var tableSections = []string{"fields", "indexes", "events"}

// Introspector builds a snapshot of the live catalog.
type Introspector struct {
	Querier surreal.Querier
}

// Introspect reads INFO FOR DB and INFO FOR TABLE for every non-internal
// table and parses the returned definitions.
func (in *Introspector) Introspect(ctx context.Context) (*snapshot.Snapshot, error) {
	info, err := in.info(ctx, "INFO FOR DB;")
	if err != nil {
		return nil, err
	}

	snap := snapshot.New()
	if err := addSection(snap, info, dbSections, "INFO FOR DB"); err != nil {
		return nil, err
	}

	tables, _ := info["tables"].(map[string]any)
	names := make([]string, 0, len(tables))
	for name := range tables {
		if !strings.HasPrefix(name, InternalPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		tinfo, err := in.info(ctx, fmt.Sprintf("INFO FOR TABLE %s;", surreal.Ident(name)))
		if err != nil {
			return nil, err
		}
		if err := addSection(snap, tinfo, tableSections, "INFO FOR TABLE "+name); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (in *Introspector) info(ctx context.Context, sql string) (map[string]any, error) {
	v, err := surreal.Exec(ctx, in.Querier, sql, nil)
	if err != nil {
		return nil, errs.Execution(sql, "introspect catalog", err)
	}
	m, _ := v.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func addSection(snap *snapshot.Snapshot, info map[string]any, sections []string, source string) error {
	for _, section := range sections {
		defs, _ := info[section].(map[string]any)
		keys := make([]string, 0, len(defs))
		for k := range defs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			stmt, ok := defs[k].(string)
			if !ok {
				continue
			}
			obj, tracked, err := ParseDefinition(stmt, source)
			if err != nil {
				return errs.WrapConfig(source, "parse catalog definition", err)
			}
			if !tracked || isInternal(obj) {
				continue
			}
			obj.Source = ""
			snap.Put(obj)
		}
	}
	return nil
}

func isInternal(o *snapshot.Object) bool {
	return strings.HasPrefix(o.Name, InternalPrefix) || strings.HasPrefix(o.Scope, InternalPrefix)
}
