package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

func TestSplitStatements_CommentsAndNesting(t *testing.T) {
	src := `
-- orders
DEFINE TABLE order SCHEMAFULL; // trailing
# hash comment
DEFINE FUNCTION fn::total($o: record<order>) {
	LET $x = 1;
	RETURN $x;
};
/* block ; comment */
DEFINE FIELD note ON order TYPE string DEFAULT 'a;b';
`
	stmts := SplitStatements(src)
	require.Len(t, stmts, 3)
	assert.Equal(t, "DEFINE TABLE order SCHEMAFULL", stmts[0])
	assert.Contains(t, stmts[1], "RETURN $x;")
	assert.Contains(t, stmts[2], "'a;b'")
}

func TestParseDefinition_Table(t *testing.T) {
	obj, ok, err := ParseDefinition("DEFINE TABLE OVERWRITE order SCHEMAFULL PERMISSIONS FOR select FULL", "orders.surql")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "table:order", obj.ID())
	assert.Equal(t, "DEFINE TABLE order", obj.Header)
	assert.Equal(t, "DEFINE TABLE order SCHEMAFULL PERMISSIONS FOR select FULL", obj.Definition)
	assert.Contains(t, obj.Clauses, "SCHEMAFULL")
	assert.Equal(t, "FOR select FULL", obj.Clauses["PERMISSIONS"])
}

func TestParseDefinition_FieldScopeAndRefs(t *testing.T) {
	obj, ok, err := ParseDefinition(
		"DEFINE FIELD IF NOT EXISTS customer ON TABLE order TYPE record<user> ASSERT $value != NONE AND fn::valid($value)",
		"orders.surql")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "field:order.customer", obj.ID())
	assert.Equal(t, "DEFINE FIELD customer ON order", obj.Header)
	assert.Equal(t, "table:order", obj.Parent)
	assert.Equal(t, "record<user>", obj.Clauses["TYPE"])
	assert.Equal(t, []string{"function:fn::valid", "table:user"}, obj.Refs)
}

func TestParseDefinition_ComparisonIsNotNesting(t *testing.T) {
	obj, _, err := ParseDefinition("DEFINE FIELD qty ON order TYPE int ASSERT $value < 10 AND $value > 0", "x")
	require.NoError(t, err)
	assert.Equal(t, "$value < 10 AND $value > 0", obj.Clauses["ASSERT"])
}

func TestParseDefinition_IndexRefsFields(t *testing.T) {
	obj, ok, err := ParseDefinition("DEFINE INDEX by_email ON user FIELDS email UNIQUE", "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "index:user.by_email", obj.ID())
	assert.Equal(t, []string{"field:user.email"}, obj.Refs)
}

func TestParseDefinition_SearchIndexRefsAnalyzer(t *testing.T) {
	obj, _, err := ParseDefinition("DEFINE INDEX body_search ON post FIELDS body SEARCH ANALYZER ascii BM25", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"analyzer:ascii", "field:post.body"}, obj.Refs)
}

func TestParseDefinition_RelationTable(t *testing.T) {
	obj, _, err := ParseDefinition("DEFINE TABLE placed TYPE RELATION IN user | admin OUT order", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"table:admin", "table:order", "table:user"}, obj.Refs)
}

func TestParseDefinition_FunctionSignature(t *testing.T) {
	obj, ok, err := ParseDefinition("DEFINE FUNCTION fn::greet($name: string) { RETURN fn::shout($name); }", "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "function:fn::greet", obj.ID())
	assert.Equal(t, "DEFINE FUNCTION fn::greet($name: string)", obj.Header)
	assert.Equal(t, []string{"function:fn::shout"}, obj.Refs)
}

func TestParseDefinition_AccessLevelScope(t *testing.T) {
	obj, ok, err := ParseDefinition("DEFINE ACCESS account ON database TYPE RECORD SIGNIN ( SELECT * FROM user WHERE email = $email ) DURATION FOR SESSION 1h", "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "access:DATABASE.account", obj.ID())
	assert.Equal(t, []string{"table:user"}, obj.Refs)
}

func TestParseDefinition_UntrackedStatements(t *testing.T) {
	for _, stmt := range []string{
		"CREATE order SET total = 1",
		"DEFINE NAMESPACE app",
		"USE NS app DB main",
	} {
		_, ok, err := ParseDefinition(stmt, "x")
		require.NoError(t, err, stmt)
		assert.False(t, ok, stmt)
	}
}

func TestParseDefinition_ScopedWithoutOn(t *testing.T) {
	_, _, err := ParseDefinition("DEFINE FIELD total TYPE number", "x")
	require.Error(t, err)
}

func TestParseDefinition_WhitespaceInsensitive(t *testing.T) {
	a, _, err := ParseDefinition("DEFINE   TABLE order\n\tSCHEMAFULL", "x")
	require.NoError(t, err)
	b, _, err := ParseDefinition("DEFINE TABLE OVERWRITE order SCHEMAFULL", "y")
	require.NoError(t, err)
	assert.Equal(t, snapshot.ObjectHash(a), snapshot.ObjectHash(b))
}

func TestParseDefinition_KeywordCaseInsensitive(t *testing.T) {
	a, _, err := ParseDefinition("define table order schemafull permissions for select full", "x")
	require.NoError(t, err)
	b, _, err := ParseDefinition("DEFINE TABLE order SCHEMAFULL PERMISSIONS for select full", "y")
	require.NoError(t, err)
	assert.Equal(t, b.Definition, a.Definition)
	assert.Equal(t, snapshot.ObjectHash(a), snapshot.ObjectHash(b))
}

func TestParseDefinition_LowercaseKeywordEndsExpression(t *testing.T) {
	obj, _, err := ParseDefinition("DEFINE FIELD qty ON order type int value 1 permissions none", "x")
	require.NoError(t, err)
	assert.Equal(t, "int", obj.Clauses["TYPE"])
	assert.Equal(t, "1", obj.Clauses["VALUE"])
	assert.Equal(t, "none", obj.Clauses["PERMISSIONS"])
	assert.Equal(t, "DEFINE FIELD qty ON order TYPE int VALUE 1 PERMISSIONS none", obj.Definition)
}

func TestParseDefinition_FieldNamedLikeKeywordInExpression(t *testing.T) {
	obj, _, err := ParseDefinition("DEFINE TABLE stat PERMISSIONS FOR select WHERE value > 0 AND type = 'public'", "x")
	require.NoError(t, err)
	assert.Equal(t, "FOR select WHERE value > 0 AND type = 'public'", obj.Clauses["PERMISSIONS"])
	assert.NotContains(t, obj.Clauses, "VALUE")
	assert.NotContains(t, obj.Clauses, "TYPE")
}

func writeSchema(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_LoadsSortedTree(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "tables/order.surql", "DEFINE TABLE order SCHEMAFULL;\nDEFINE FIELD total ON order TYPE number;")
	writeSchema(t, dir, "auth/user.surql", "DEFINE TABLE user SCHEMAFULL;")
	writeSchema(t, dir, "README.md", "not schema")

	loaded, err := NewLoader(dir, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"field:order.total", "table:order", "table:user"}, loaded.Snapshot.IDs())
	require.Len(t, loaded.Files.Files, 2)
	assert.Equal(t, "auth/user.surql", loaded.Files.Files[0].Path)

	obj, ok := loaded.Snapshot.Get("table:order")
	require.True(t, ok)
	assert.Equal(t, "tables/order.surql", obj.Source)
}

func TestLoader_DuplicateIsConfigError(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "a.surql", "DEFINE TABLE order;")
	writeSchema(t, dir, "b.surql", "DEFINE TABLE order SCHEMALESS;")

	_, err := NewLoader(dir, nil).Load()
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, err.Error(), "table:order")
}

func TestLoader_MissingDirIsEmpty(t *testing.T) {
	loaded, err := NewLoader(filepath.Join(t.TempDir(), "missing"), nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Snapshot.Len())
}

type infoQuerier struct {
	responses map[string]any
	queries   []string
}

func (q *infoQuerier) Query(_ context.Context, sql string, _ map[string]any) ([]surreal.Result, error) {
	q.queries = append(q.queries, sql)
	return []surreal.Result{{Status: surreal.StatusOK, Value: q.responses[sql]}}, nil
}

func TestIntrospector_SkipsInternalTables(t *testing.T) {
	q := &infoQuerier{responses: map[string]any{
		"INFO FOR DB;": map[string]any{
			"tables": map[string]any{
				"order":                 "DEFINE TABLE order TYPE NORMAL SCHEMAFULL PERMISSIONS NONE",
				"_surrealkit_migration": "DEFINE TABLE _surrealkit_migration TYPE NORMAL SCHEMALESS",
			},
			"functions": map[string]any{
				"total": "DEFINE FUNCTION fn::total() { RETURN 1; } PERMISSIONS FULL",
			},
		},
		"INFO FOR TABLE order;": map[string]any{
			"fields": map[string]any{
				"total": "DEFINE FIELD total ON order TYPE number PERMISSIONS FULL",
			},
			"indexes": map[string]any{},
		},
	}}

	snap, err := (&Introspector{Querier: q}).Introspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"field:order.total", "function:fn::total", "table:order"}, snap.IDs())
	assert.NotContains(t, q.queries, "INFO FOR TABLE _surrealkit_migration;")
}
