// Package migration renders change sets into SurrealQL and manages migration
// artifacts and the migration ledger.
package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/diff"
	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// RenderOptions describes server capabilities that affect rendering.
type RenderOptions struct {
	// RemoveAPI reports whether the server understands REMOVE API.
	RemoveAPI bool
}

// Statements renders every operation of cs in order. Statements carry no
// trailing semicolon.
func Statements(cs *diff.ChangeSet, opts RenderOptions) ([]string, error) {
	out := make([]string, 0, len(cs.Ops))
	for _, op := range cs.Ops {
		stmt, err := Statement(op, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

// Statement renders one operation.
func Statement(op diff.ChangeOp, opts RenderOptions) (string, error) {
	switch op.Type {
	case diff.OpCreate:
		if op.Shell {
			stmt, ok := op.After.ShellStatement()
			if !ok {
				return "", errs.Config(op.ID, "%s objects cannot be split into a shell", op.After.Kind)
			}
			return stmt, nil
		}
		return op.After.Statement(), nil
	case diff.OpAlter:
		return op.After.Statement(), nil
	case diff.OpDrop:
		return RemoveStatement(op.Before, opts)
	default:
		return "", fmt.Errorf("unknown operation %q for %s", op.Type, op.ID)
	}
}

// RemoveStatement renders the REMOVE statement for o.
func RemoveStatement(o *snapshot.Object, opts RenderOptions) (string, error) {
	switch o.Kind {
	case snapshot.KindTable:
		return "REMOVE TABLE " + o.Name, nil
	case snapshot.KindField, snapshot.KindIndex, snapshot.KindEvent:
		if o.Scope == "" {
			return "", errs.Config(o.ID(), "cannot render REMOVE %s without a table", o.Kind.Keyword())
		}
		return fmt.Sprintf("REMOVE %s %s ON %s", o.Kind.Keyword(), o.Name, o.Scope), nil
	case snapshot.KindFunction:
		return "REMOVE FUNCTION " + o.Name, nil
	case snapshot.KindParam:
		name := o.Name
		if !strings.HasPrefix(name, "$") {
			name = "$" + name
		}
		return "REMOVE PARAM " + name, nil
	case snapshot.KindAnalyzer:
		return "REMOVE ANALYZER " + o.Name, nil
	case snapshot.KindAccess, snapshot.KindUser:
		stmt := fmt.Sprintf("REMOVE %s %s", o.Kind.Keyword(), o.Name)
		if o.Scope != "" {
			stmt += " ON " + o.Scope
		}
		return stmt, nil
	case snapshot.KindAPI:
		if !opts.RemoveAPI {
			return "", errs.Execution(o.ID(),
				"server does not support REMOVE API; use a manual migration or upgrade the server", nil)
		}
		return "REMOVE API " + quoteAPI(o.Name), nil
	default:
		return "", errs.Config(o.ID(), "unknown object kind %q", o.Kind)
	}
}

func quoteAPI(name string) string {
	if surreal.Ident(name) == name {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

// apiProbe is removed on every probe; it never exists.
const apiProbe = "REMOVE API __surrealkit_capability_probe__;"

// ProbeCapabilities asks the server which optional statements it supports.
// A "does not exist" failure still proves the syntax is understood.
func ProbeCapabilities(ctx context.Context, q surreal.Querier) RenderOptions {
	_, err := surreal.Exec(ctx, q, apiProbe, nil)
	if err == nil {
		return RenderOptions{RemoveAPI: true}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unexpected", "parse", "not implemented", "invalid statement"} {
		if strings.Contains(msg, marker) {
			return RenderOptions{RemoveAPI: false}
		}
	}
	return RenderOptions{RemoveAPI: true}
}
