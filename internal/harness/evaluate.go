package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// Outcome is the uniform result of evaluating a case. Failures are data:
// an evaluator never returns an error, so one case cannot abort another.
type Outcome struct {
	Passed  bool
	Message string
	Checks  []Check
}

func outcomeOf(checks []Check, failure string) Outcome {
	if allPassed(checks) {
		return Outcome{Passed: true, Checks: checks}
	}
	return Outcome{Message: failure, Checks: checks}
}

func failed(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...)}
}

// Env is what evaluators may use: statement execution and metadata
// inspection through actor sessions, and HTTP calls for api_request.
type Env struct {
	Sessions Sessions
	BaseURL  string
	Timeout  time.Duration
	HTTP     *http.Client
}

// exec runs sql as actor and returns the value of the last statement.
func (e *Env) exec(ctx context.Context, actor, sql string) (any, error) {
	sess, err := e.Sessions.Get(actor)
	if err != nil {
		return nil, err
	}
	if sess.Conn == nil {
		return nil, fmt.Errorf("actor %q (%s) has no database session", actor, sess.Kind)
	}
	return surreal.Exec(ctx, sess.Conn, sql, nil)
}

// Evaluate runs one case. Each kind has exactly one evaluator.
func Evaluate(ctx context.Context, env *Env, c Case) Outcome {
	switch c := c.(type) {
	case *SQLExpect:
		return evalSQLExpect(ctx, env, c)
	case *PermissionsMatrix:
		return evalPermissions(ctx, env, c)
	case *SchemaMetadata:
		return evalSchemaMetadata(ctx, env, c)
	case *SchemaBehavior:
		return evalSchemaBehavior(ctx, env, c)
	case *APIRequest:
		return evalAPIRequest(ctx, env, c)
	default:
		return failed("unsupported case type %T", c)
	}
}

func evalSQLExpect(ctx context.Context, env *Env, c *SQLExpect) Outcome {
	if _, err := env.Sessions.Get(c.ActorName()); err != nil {
		return failed("%v", err)
	}
	value, err := env.exec(ctx, c.ActorName(), c.SQL)
	allow := boolOr(c.Allow, true)
	outcome := expectOutcome("outcome", err, allow, c.ErrorContains, c.ErrorCode)
	if !outcome.Passed {
		return Outcome{Message: outcome.Message, Checks: []Check{outcome}}
	}

	checks := []Check{outcome}
	if allow {
		for i, a := range c.Assertions {
			checks = append(checks, AssertJSON(value, a, i))
		}
	}
	return outcomeOf(checks, "one or more assertions failed")
}

// expectOutcome compares a statement result with the expected allow/deny.
// On an expected failure the error must contain errorContains and
// errorCode when they are set.
func expectOutcome(label string, err error, allow bool, errorContains, errorCode string) Check {
	switch {
	case allow && err == nil:
		return Check{Name: label, Passed: true, Message: "query succeeded as expected"}
	case allow:
		return Check{Name: label, Message: "expected success, got error: " + errorText(err)}
	case err == nil:
		return Check{Name: label, Message: "expected failure, query succeeded"}
	}
	text := errorText(err)
	if (errorContains != "" && !strings.Contains(text, errorContains)) ||
		(errorCode != "" && !strings.Contains(text, errorCode)) {
		return Check{Name: label, Message: fmt.Sprintf("error mismatch, got '%s'", text)}
	}
	return Check{Name: label, Passed: true, Message: "query failed as expected"}
}

func evalPermissions(ctx context.Context, env *Env, c *PermissionsMatrix) Outcome {
	if _, err := env.Sessions.Get(c.ActorName()); err != nil {
		return failed("%v", err)
	}
	table := surreal.Ident(c.Table)
	record := surreal.Ident(c.Record())
	target := table + ":" + record

	checks := make([]Check, 0, len(c.Rules))
	for i, rule := range c.Rules {
		label := fmt.Sprintf("rule_%d_%s", i+1, rule.Action)

		// re-seed before every rule so an earlier delete cannot mask a later one
		seed := fmt.Sprintf("UPSERT %s MERGE { __surrealkit_perm_seed: true };", target)
		if _, err := env.exec(ctx, RootActor, seed); err != nil {
			checks = append(checks, Check{Name: label, Message: "seed record failed: " + err.Error()})
			continue
		}

		var sql string
		switch rule.Action {
		case ActionCreate:
			sql = fmt.Sprintf("CREATE %s:%s CONTENT { marker: 'perm' };", table, surreal.Ident(fmt.Sprintf("%s_create_%d", c.Record(), i)))
		case ActionSelect:
			sql = fmt.Sprintf("SELECT * FROM %s;", target)
		case ActionUpdate:
			sql = fmt.Sprintf("UPDATE %s SET marker = 'updated_%d';", target, i)
		case ActionDelete:
			sql = fmt.Sprintf("DELETE %s;", target)
		case ActionQuery:
			sql = rule.SQL
		default:
			checks = append(checks, Check{Name: label, Message: fmt.Sprintf("unknown action %q", rule.Action)})
			continue
		}

		value, err := env.exec(ctx, c.ActorName(), sql)
		if err == nil && filtered(rule.Action, value) {
			err = fmt.Errorf("no rows visible to %s (permission filtered)", c.ActorName())
		}
		check := expectOutcome(label, err, boolOr(rule.Allow, true), rule.ErrorContains, "")
		if !check.Passed {
			check.Message += "; sql=" + sql
		}
		checks = append(checks, check)
	}
	return outcomeOf(checks, "one or more permission rules failed")
}

// filtered reports whether a select or update silently matched nothing.
// Row level permissions hide records instead of raising an error, and the
// seeded record always exists.
func filtered(action PermissionAction, value any) bool {
	if action != ActionSelect && action != ActionUpdate {
		return false
	}
	return len(surreal.Rows(value)) == 0
}

func evalSchemaMetadata(ctx context.Context, env *Env, c *SchemaMetadata) Outcome {
	sql := c.SQL
	if sql == "" {
		sql = fmt.Sprintf("INFO FOR TABLE %s;", surreal.Ident(c.Table))
	}
	value, err := env.exec(ctx, c.ActorName(), sql)
	if err != nil {
		return failed("metadata query failed: %v", err)
	}

	var checks []Check
	text := jsonText(value)
	for i, needle := range c.Contains {
		checks = append(checks, Check{
			Name:    fmt.Sprintf("contains_%d", i+1),
			Passed:  strings.Contains(text, needle),
			Message: fmt.Sprintf("expected metadata to contain '%s'", needle),
		})
	}

	if len(c.Fields) > 0 {
		fields := value
		if c.SQL != "" {
			// custom metadata queries are not guaranteed to be INFO FOR TABLE
			fields, err = env.exec(ctx, c.ActorName(), fmt.Sprintf("INFO FOR TABLE %s;", surreal.Ident(c.Table)))
			if err != nil {
				return failed("metadata query failed: %v", err)
			}
		}
		defs, _ := Lookup(fields, "fields")
		m, _ := defs.(map[string]any)
		for i, f := range c.Fields {
			checks = append(checks, fieldCheck(m, f, i))
		}
	}

	for i, a := range c.Assertions {
		checks = append(checks, AssertJSON(value, a, i))
	}
	return outcomeOf(checks, "schema metadata assertions failed")
}

// fieldCheck compares one INFO FOR TABLE field definition with f.
func fieldCheck(fields map[string]any, f FieldExpect, index int) Check {
	label := fmt.Sprintf("field_%d_%s", index+1, f.Name)
	raw, present := fields[f.Name]
	want := boolOr(f.Present, true)
	if present != want {
		return Check{Name: label, Message: fmt.Sprintf("field '%s' presence mismatch: expected %t got %t", f.Name, want, present)}
	}
	if !present {
		return Check{Name: label, Passed: true, Message: fmt.Sprintf("field '%s' absent as expected", f.Name)}
	}

	def := fmt.Sprint(raw)
	if f.Type != "" {
		obj, ok, err := schema.ParseDefinition(def, "")
		got := ""
		if err == nil && ok {
			got = obj.Clauses["TYPE"]
		}
		if !strings.EqualFold(strings.Join(strings.Fields(got), " "), strings.Join(strings.Fields(f.Type), " ")) {
			return Check{Name: label, Message: fmt.Sprintf("field '%s' expected type '%s', got '%s'", f.Name, f.Type, got)}
		}
	}
	if f.ValueContains != "" && !strings.Contains(def, f.ValueContains) {
		return Check{Name: label, Message: fmt.Sprintf("field '%s' definition missing '%s': %s", f.Name, f.ValueContains, def)}
	}
	return Check{Name: label, Passed: true, Message: fmt.Sprintf("field '%s' matches", f.Name)}
}

func evalSchemaBehavior(ctx context.Context, env *Env, c *SchemaBehavior) Outcome {
	actor := c.ActorName()
	if _, err := env.Sessions.Get(actor); err != nil {
		return failed("%v", err)
	}
	for i, sql := range c.SetupSQL {
		if _, err := env.exec(ctx, actor, sql); err != nil {
			return failed("setup_sql[%d] failed: %v", i, err)
		}
	}

	_, err := env.exec(ctx, actor, c.ActionSQL)
	expectSuccess := boolOr(c.ExpectSuccess, true)
	outcome := expectOutcome("outcome", err, expectSuccess, c.ExpectErrorContains, "")
	// a failed action has no result to assert on unless verify_sql reads state
	if !outcome.Passed || len(c.Assertions) == 0 || (!expectSuccess && c.VerifySQL == "") {
		return Outcome{Passed: outcome.Passed, Message: failureMessage(outcome), Checks: []Check{outcome}}
	}

	verify := c.VerifySQL
	if verify == "" {
		verify = c.ActionSQL
	}
	value, err := env.exec(ctx, actor, verify)
	if err != nil {
		return Outcome{Message: "verify query failed: " + err.Error(), Checks: []Check{outcome}}
	}
	checks := []Check{outcome}
	for i, a := range c.Assertions {
		checks = append(checks, AssertJSON(value, a, i))
	}
	return outcomeOf(checks, "schema behavior assertions failed")
}

// errorText is the database's own message for statement errors.
func errorText(err error) string {
	var qe *surreal.QueryError
	if errors.As(err, &qe) {
		return qe.Message
	}
	return err.Error()
}

func failureMessage(c Check) string {
	if c.Passed {
		return ""
	}
	return c.Message
}
