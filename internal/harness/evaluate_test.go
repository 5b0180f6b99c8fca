package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForetagInc/surrealkit/internal/surreal"
	"github.com/ForetagInc/surrealkit/internal/testutil"
)

const permissionDenied = "Not enough permissions to perform this action"

// newEnv resolves root plus a record actor "guest" and a headers actor
// "anon" in testScope.
func newEnv(t *testing.T, db *testutil.FakeDB) *Env {
	t.Helper()
	db.AddRecordUser("shop", "guest", nil)
	actors := map[string]ActorSpec{
		"guest": {Kind: ActorRecord, Access: "shop"},
		"anon":  {Kind: ActorHeaders, Headers: map[string]string{"X-Role": "anon"}},
	}
	sessions, err := newResolver(db, nil).ResolveAll(context.Background(), actors, testScope)
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close(context.Background()) })
	return &Env{Sessions: sessions, Timeout: time.Second}
}

func rootExec(t *testing.T, env *Env, sql string) {
	t.Helper()
	_, err := surreal.ExecAll(context.Background(), env.Sessions[RootActor].Conn, sql, nil)
	require.NoError(t, err)
}

func guestCreatesOrder() *SQLExpect {
	return &SQLExpect{
		CaseHeader:    CaseHeader{Name: "guest_cannot_create_order", Kind: KindSQLExpect, Actor: "guest"},
		SQL:           "CREATE order CONTENT { total: 10 };",
		Allow:         ptr(false),
		ErrorContains: "permission",
	}
}

func TestSQLExpect_GuestCannotCreateOrder(t *testing.T) {
	t.Run("rejected with permission error passes", func(t *testing.T) {
		db := testutil.NewFakeDB()
		db.FailFor("guest", `^CREATE\s+order`, permissionDenied)
		out := Evaluate(context.Background(), newEnv(t, db), guestCreatesOrder())
		assert.True(t, out.Passed, out.Message)
		require.Len(t, out.Checks, 1)
		assert.Equal(t, "query failed as expected", out.Checks[0].Message)
	})

	t.Run("unexpected success fails", func(t *testing.T) {
		db := testutil.NewFakeDB()
		out := Evaluate(context.Background(), newEnv(t, db), guestCreatesOrder())
		assert.False(t, out.Passed)
		assert.Equal(t, "expected failure, query succeeded", out.Message)
	})

	t.Run("different error fails", func(t *testing.T) {
		db := testutil.NewFakeDB()
		db.FailFor("guest", `^CREATE\s+order`, "Parse error: unexpected token")
		out := Evaluate(context.Background(), newEnv(t, db), guestCreatesOrder())
		assert.False(t, out.Passed)
		assert.Equal(t, "error mismatch, got 'Parse error: unexpected token'", out.Message)
	})
}

func TestSQLExpect_AllowedWithAssertions(t *testing.T) {
	db := testutil.NewFakeDB()
	env := newEnv(t, db)
	c := &SQLExpect{
		CaseHeader: CaseHeader{Name: "create", Kind: KindSQLExpect},
		SQL:        "CREATE order:1 SET total = 10, status = 'open'; SELECT * FROM order:1;",
		Assertions: []JSONAssertion{
			{Path: "0.total", Equals: 10},
			{Path: "0.status", Equals: "paid"},
		},
	}
	out := Evaluate(context.Background(), env, c)
	assert.False(t, out.Passed)
	assert.Equal(t, "one or more assertions failed", out.Message)
	require.Len(t, out.Checks, 3)
	assert.True(t, out.Checks[0].Passed)
	assert.True(t, out.Checks[1].Passed)
	assert.False(t, out.Checks[2].Passed)
	assert.Equal(t, `path '0.status' expected "paid", got "open"`, out.Checks[2].Message)
}

func TestSQLExpect_ErrorCode(t *testing.T) {
	db := testutil.NewFakeDB()
	db.Fail(`^DELETE`, "IAM error: Not enough permissions (code: 403)")
	env := newEnv(t, db)

	c := &SQLExpect{CaseHeader: CaseHeader{Name: "delete", Kind: KindSQLExpect}, SQL: "DELETE order;", Allow: ptr(false), ErrorCode: "403"}
	assert.True(t, Evaluate(context.Background(), env, c).Passed)

	c.ErrorCode = "401"
	assert.False(t, Evaluate(context.Background(), env, c).Passed)
}

func TestSQLExpect_ActorProblemsFailTheCase(t *testing.T) {
	env := newEnv(t, testutil.NewFakeDB())

	out := Evaluate(context.Background(), env, &SQLExpect{CaseHeader: CaseHeader{Name: "x", Actor: "ghost"}, SQL: "RETURN 1;"})
	assert.False(t, out.Passed)
	assert.Contains(t, out.Message, "actor not configured")

	out = Evaluate(context.Background(), env, &SQLExpect{CaseHeader: CaseHeader{Name: "x", Actor: "anon"}, SQL: "RETURN 1;"})
	assert.False(t, out.Passed)
	assert.Contains(t, out.Message, "has no database session")
}

func TestPermissionsMatrix_ReportsEachRule(t *testing.T) {
	db := testutil.NewFakeDB()
	db.FailFor("guest", `^UPDATE`, "Not allowed to modify order:perm_record")
	env := newEnv(t, db)

	c := &PermissionsMatrix{
		CaseHeader: CaseHeader{Name: "order_permissions", Kind: KindPermissionsMatrix, Actor: "guest"},
		Table:      "order",
		Rules: []PermissionRule{
			{Action: ActionSelect, Allow: ptr(true)},
			{Action: ActionUpdate, Allow: ptr(false), ErrorContains: "permission"},
		},
	}
	out := Evaluate(context.Background(), env, c)
	assert.False(t, out.Passed)
	assert.Equal(t, "one or more permission rules failed", out.Message)
	require.Len(t, out.Checks, 2)

	assert.Equal(t, "rule_1_select", out.Checks[0].Name)
	assert.True(t, out.Checks[0].Passed)
	assert.Equal(t, "rule_2_update", out.Checks[1].Name)
	assert.False(t, out.Checks[1].Passed)
	assert.Contains(t, out.Checks[1].Message, "error mismatch")
	assert.Contains(t, out.Checks[1].Message, "sql=UPDATE order:perm_record")
}

func TestPermissionsMatrix_AllActions(t *testing.T) {
	db := testutil.NewFakeDB()
	db.FailFor("guest", `^CREATE`, permissionDenied)
	db.FailFor("guest", `^DELETE`, permissionDenied)
	// row level permissions hide the record from guest selects
	db.On(`^SELECT \* FROM order:r1`, func(c testutil.Call) surreal.Result {
		if c.Principal == "guest" {
			return surreal.Result{Status: surreal.StatusOK, Value: []any{}}
		}
		return surreal.Result{Status: surreal.StatusOK, Value: []any{map[string]any{"id": "order:r1"}}}
	})
	env := newEnv(t, db)

	c := &PermissionsMatrix{
		CaseHeader: CaseHeader{Name: "matrix", Kind: KindPermissionsMatrix, Actor: "guest"},
		Table:      "order",
		RecordID:   "r1",
		Rules: []PermissionRule{
			{Action: ActionCreate, Allow: ptr(false), ErrorContains: "permission"},
			{Action: ActionSelect, Allow: ptr(false)},
			{Action: ActionUpdate},
			{Action: ActionDelete, Allow: ptr(false)},
			{Action: ActionQuery, SQL: "RETURN 1;"},
		},
	}
	out := Evaluate(context.Background(), env, c)
	assert.True(t, out.Passed, "%+v", out.Checks)
	require.Len(t, out.Checks, 5)

	var seeds int
	for _, call := range db.Calls() {
		if call.SQL == "UPSERT order:r1 MERGE { __surrealkit_perm_seed: true }" {
			seeds++
			assert.Equal(t, "root", call.Principal)
		}
	}
	assert.Equal(t, 5, seeds, "the record is re-seeded before every rule")
}

func TestSchemaMetadata(t *testing.T) {
	db := testutil.NewFakeDB()
	env := newEnv(t, db)
	rootExec(t, env, `DEFINE TABLE order SCHEMAFULL;
DEFINE FIELD total ON order TYPE number;
DEFINE FIELD label ON order TYPE option<string> VALUE string::concat('#', id);`)

	c := &SchemaMetadata{
		CaseHeader: CaseHeader{Name: "order_fields", Kind: KindSchemaMetadata},
		Table:      "order",
		Contains:   []string{"DEFINE FIELD total"},
		Fields: []FieldExpect{
			{Name: "total", Type: "number"},
			{Name: "label", Type: "option<string>", ValueContains: "string::concat"},
			{Name: "legacy", Present: ptr(false)},
		},
	}
	out := Evaluate(context.Background(), env, c)
	assert.True(t, out.Passed, "%+v", out.Checks)
	assert.Len(t, out.Checks, 4)

	c.Fields = []FieldExpect{{Name: "total", Type: "string"}}
	out = Evaluate(context.Background(), env, c)
	assert.False(t, out.Passed)
	assert.Equal(t, "schema metadata assertions failed", out.Message)
	assert.Equal(t, "field 'total' expected type 'string', got 'number'", out.Checks[1].Message)
}

func TestSchemaMetadata_CustomSQL(t *testing.T) {
	db := testutil.NewFakeDB()
	env := newEnv(t, db)
	rootExec(t, env, "DEFINE TABLE order SCHEMAFULL;")

	c := &SchemaMetadata{
		CaseHeader: CaseHeader{Name: "db_info", Kind: KindSchemaMetadata},
		SQL:        "INFO FOR DB;",
		Assertions: []JSONAssertion{{Path: "tables.order", Exists: ptr(true)}},
	}
	out := Evaluate(context.Background(), env, c)
	assert.True(t, out.Passed, "%+v", out.Checks)
}

func TestSchemaBehavior(t *testing.T) {
	db := testutil.NewFakeDB()
	env := newEnv(t, db)

	c := &SchemaBehavior{
		CaseHeader: CaseHeader{Name: "update_sets_qty", Kind: KindSchemaBehavior},
		SetupSQL:   []string{"CREATE order:1 SET price = 2;"},
		ActionSQL:  "UPDATE order:1 SET qty = 3;",
		VerifySQL:  "SELECT * FROM order:1;",
		Assertions: []JSONAssertion{{Path: "0.qty", Equals: 3}, {Path: "0.price", Equals: 2}},
	}
	out := Evaluate(context.Background(), env, c)
	assert.True(t, out.Passed, "%+v", out.Checks)
	assert.Len(t, out.Checks, 3)
}

func TestSchemaBehavior_ExpectedFailure(t *testing.T) {
	db := testutil.NewFakeDB()
	db.Fail(`^CREATE order:2`, "Found 'abc' for field `qty`, but expected a number")
	env := newEnv(t, db)

	c := &SchemaBehavior{
		CaseHeader:          CaseHeader{Name: "qty_must_be_number", Kind: KindSchemaBehavior},
		ActionSQL:           "CREATE order:2 SET qty = 'abc';",
		ExpectSuccess:       ptr(false),
		ExpectErrorContains: "expected a number",
		Assertions:          []JSONAssertion{{Path: "0", Exists: ptr(true)}},
	}
	out := Evaluate(context.Background(), env, c)
	assert.True(t, out.Passed, out.Message)
	assert.Len(t, out.Checks, 1, "assertions only run after a successful action")
	assert.Len(t, callsMatching(db, "CREATE order:2"), 1, "the failing action runs once")
}

func TestSchemaBehavior_ExpectedFailureWithVerify(t *testing.T) {
	db := testutil.NewFakeDB()
	db.Fail(`^CREATE order:2`, "Found 'abc' for field `qty`, but expected a number")
	env := newEnv(t, db)
	rootExec(t, env, "CREATE order:1 SET qty = 1;")

	c := &SchemaBehavior{
		CaseHeader:          CaseHeader{Name: "rejected_create_leaves_table", Kind: KindSchemaBehavior},
		ActionSQL:           "CREATE order:2 SET qty = 'abc';",
		ExpectSuccess:       ptr(false),
		ExpectErrorContains: "expected a number",
		VerifySQL:           "SELECT * FROM order:1;",
		Assertions:          []JSONAssertion{{Path: "0.qty", Equals: 1}},
	}
	out := Evaluate(context.Background(), env, c)
	assert.True(t, out.Passed, "%+v", out.Checks)
	assert.Len(t, out.Checks, 2)
}

func callsMatching(db *testutil.FakeDB, prefix string) []string {
	var out []string
	for _, sql := range db.SQL() {
		if strings.HasPrefix(sql, prefix) {
			out = append(out, sql)
		}
	}
	return out
}

func TestSchemaBehavior_SetupFailure(t *testing.T) {
	db := testutil.NewFakeDB()
	db.Fail(`^CREATE broken`, "boom")
	env := newEnv(t, db)

	c := &SchemaBehavior{
		CaseHeader: CaseHeader{Name: "x", Kind: KindSchemaBehavior},
		SetupSQL:   []string{"CREATE ok:1;", "CREATE broken:1;"},
		ActionSQL:  "RETURN 1;",
	}
	out := Evaluate(context.Background(), env, c)
	assert.False(t, out.Passed)
	assert.Contains(t, out.Message, "setup_sql[1] failed")
	assert.Contains(t, out.Message, "boom")
}
