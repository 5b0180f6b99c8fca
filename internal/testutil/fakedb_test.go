package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForetagInc/surrealkit/internal/surreal"
)

func TestFakeDB_DefineAndInfo(t *testing.T) {
	db := NewFakeDB()
	ctx := context.Background()

	_, err := surreal.ExecAll(ctx, db, `
DEFINE TABLE order SCHEMAFULL;
DEFINE FIELD total ON order TYPE number;
DEFINE FIELD OVERWRITE total ON order TYPE int;
`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"DEFINE TABLE order SCHEMAFULL", "DEFINE FIELD total ON order TYPE int"}, db.Defs("test", "test"))

	info, err := surreal.Exec(ctx, db, "INFO FOR TABLE order;", nil)
	require.NoError(t, err)
	fields := info.(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "DEFINE FIELD total ON order TYPE int", fields["total"])

	_, err = surreal.Exec(ctx, db, "REMOVE TABLE order;", nil)
	require.NoError(t, err)
	assert.Empty(t, db.Defs("test", "test"))
}

func TestFakeDB_RecordsRoundTrip(t *testing.T) {
	db := NewFakeDB()
	ctx := context.Background()

	_, err := surreal.Exec(ctx, db, "CREATE ledger CONTENT $row;", map[string]any{"row": map[string]any{"seq": 1}})
	require.NoError(t, err)
	_, err = surreal.Exec(ctx, db, "UPSERT meta:shared CONTENT $row;", map[string]any{"row": map[string]any{"value": true}})
	require.NoError(t, err)
	_, err = surreal.Exec(ctx, db, "CREATE sentinel SET suite = 'a', n = 2;", nil)
	require.NoError(t, err)

	rows, err := surreal.Exec(ctx, db, "SELECT * FROM ledger;", nil)
	require.NoError(t, err)
	require.Len(t, surreal.Rows(rows), 1)

	one, err := surreal.Exec(ctx, db, "SELECT * FROM ONLY meta:shared;", nil)
	require.NoError(t, err)
	assert.Equal(t, true, one.(map[string]any)["value"])

	found, err := surreal.Exec(ctx, db, "SELECT * FROM sentinel WHERE suite = 'a';", nil)
	require.NoError(t, err)
	require.Len(t, surreal.Rows(found), 1)
	assert.Equal(t, int64(2), surreal.Rows(found)[0]["n"])
}

func TestFakeDB_ScopesAreIsolated(t *testing.T) {
	db := NewFakeDB()
	ctx := context.Background()

	a, err := db.Dial(ctx)
	require.NoError(t, err)
	b, err := db.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Use(ctx, "ns", "a"))
	require.NoError(t, b.Use(ctx, "ns", "b"))

	_, err = surreal.Exec(ctx, a, "CREATE sentinel SET owner = 'a';", nil)
	require.NoError(t, err)
	v, err := surreal.Exec(ctx, b, "SELECT * FROM sentinel;", nil)
	require.NoError(t, err)
	assert.Empty(t, surreal.Rows(v))

	_, err = surreal.Exec(ctx, db, "DEFINE NAMESPACE IF NOT EXISTS bare;", nil)
	require.NoError(t, err)
	assert.Contains(t, db.Namespaces(), "bare")
	assert.Contains(t, db.Namespaces(), "ns")

	_, err = surreal.Exec(ctx, db, "REMOVE NAMESPACE ns;", nil)
	require.NoError(t, err)
	assert.NotContains(t, db.Scopes(), "ns/a")
	assert.NotContains(t, db.Namespaces(), "ns")
}

func TestFakeDB_AuthAndRules(t *testing.T) {
	db := NewFakeDB()
	ctx := context.Background()
	db.AddRecordUser("account", "guest", map[string]any{"email": "guest@example.com"})
	db.FailFor("guest", `^CREATE\s+order`, "You don't have permission to create this record")

	conn, err := db.Dial(ctx)
	require.NoError(t, err)
	_, err = conn.SignIn(ctx, surreal.Credentials{Access: "account", Params: map[string]any{"email": "nobody"}})
	require.Error(t, err)

	token, err := conn.SignIn(ctx, surreal.Credentials{Access: "account", Params: map[string]any{"email": "guest@example.com"}})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = surreal.Exec(ctx, conn, "CREATE order SET total = 1;", nil)
	var qe *surreal.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.Message, "permission")

	// root is unaffected by the guest rule
	_, err = surreal.Exec(ctx, db, "CREATE order SET total = 1;", nil)
	require.NoError(t, err)

	other, err := db.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, other.Authenticate(ctx, token))
	assert.Equal(t, "guest", other.(*FakeSession).Principal())
}
