package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForetagInc/surrealkit/internal/errs"
)

const guestSuiteTOML = `
name = "orders"
tags = ["security"]

[actors.guest]
kind = "record"
access = "shop"
params = { email = "guest@example.com" }
params_env = "GUEST_PARAMS"

[[fixtures]]
name = "products"
sql = "CREATE product:one CONTENT { name: 'one' };"

[[cases]]
name = "guest_cannot_create_order"
kind = "sql_expect"
actor = "guest"
sql = "CREATE order CONTENT { total: 10 };"
allow = false
error_contains = "permission"

[[cases]]
name = "order_permissions"
kind = "permissions_matrix"
actor = "guest"
table = "order"
rules = [
  { action = "select", allow = true },
  { action = "update", allow = false, error_contains = "permission" },
]

[[cases]]
name = "health"
kind = "api_request"
method = "get"
path = "/health"
expected_status = 200
body_assertions = [{ path = "status", equals = "ok" }]
`

func TestParseSuite_TOML(t *testing.T) {
	s, err := ParseSuite([]byte(guestSuiteTOML), FormatTOML, "orders.toml")
	require.NoError(t, err)

	assert.Equal(t, "orders", s.Name)
	assert.Equal(t, "orders.toml", s.File)
	assert.Equal(t, []string{"security"}, s.Tags)
	require.Contains(t, s.Actors, "guest")
	assert.Equal(t, ActorRecord, s.Actors["guest"].Kind)
	assert.Equal(t, "guest@example.com", s.Actors["guest"].Params["email"])
	require.Len(t, s.Fixtures, 1)
	require.Len(t, s.Cases, 3)

	sqlCase, ok := s.Cases[0].(*SQLExpect)
	require.True(t, ok)
	assert.Equal(t, "guest", sqlCase.ActorName())
	require.NotNil(t, sqlCase.Allow)
	assert.False(t, *sqlCase.Allow)
	assert.Equal(t, "permission", sqlCase.ErrorContains)

	matrix, ok := s.Cases[1].(*PermissionsMatrix)
	require.True(t, ok)
	assert.Equal(t, DefaultRecordID, matrix.Record())
	require.Len(t, matrix.Rules, 2)
	assert.Equal(t, ActionUpdate, matrix.Rules[1].Action)

	api, ok := s.Cases[2].(*APIRequest)
	require.True(t, ok)
	assert.Equal(t, "GET", api.Method)
	assert.Equal(t, 200, api.ExpectedStatus)
	assert.Equal(t, RootActor, api.ActorName())
}

func TestParseSuite_YAML(t *testing.T) {
	src := `
name: metadata
cases:
  - name: order_fields
    kind: schema_metadata
    table: order
    fields:
      - name: total
        type: number
      - name: legacy
        present: false
  - name: computed_total
    kind: schema_behavior
    setup_sql:
      - "CREATE order:1 SET price = 2, qty = 3;"
    action_sql: "SELECT total FROM order:1;"
    assertions:
      - path: "0.total"
        equals: 6
`
	s, err := ParseSuite([]byte(src), FormatYAML, "meta.yaml")
	require.NoError(t, err)
	require.Len(t, s.Cases, 2)

	meta := s.Cases[0].(*SchemaMetadata)
	require.Len(t, meta.Fields, 2)
	assert.Equal(t, "number", meta.Fields[0].Type)
	require.NotNil(t, meta.Fields[1].Present)
	assert.False(t, *meta.Fields[1].Present)

	behavior := s.Cases[1].(*SchemaBehavior)
	assert.Equal(t, []string{"CREATE order:1 SET price = 2, qty = 3;"}, behavior.SetupSQL)
	require.Len(t, behavior.Assertions, 1)
	assert.EqualValues(t, 6, behavior.Assertions[0].Equals)
}

func TestParseSuite_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown case field",
			src: `[[cases]]
name = "a"
kind = "sql_expect"
sql = "RETURN 1;"
alow = false`,
			want: "alow",
		},
		{
			name: "unknown kind",
			src: `[[cases]]
name = "a"
kind = "sql_guess"`,
			want: "kind",
		},
		{
			name: "literal password",
			src: `[actors.admin]
kind = "database"
username = "admin"
password = "hunter2"`,
			want: `actor "admin": literal password is not allowed, use password_env`,
		},
		{
			name: "invalid regex",
			src: `[[cases]]
name = "a"
kind = "sql_expect"
sql = "RETURN 1;"
assertions = [{ path = "", regex = "([" }]`,
			want: "invalid regex",
		},
		{
			name: "duplicate case",
			src: `[[cases]]
name = "a"
kind = "sql_expect"
sql = "RETURN 1;"

[[cases]]
name = "a"
kind = "sql_expect"
sql = "RETURN 2;"`,
			want: `duplicate case name "a"`,
		},
		{
			name: "query rule without sql",
			src: `[[cases]]
name = "a"
kind = "permissions_matrix"
table = "t"
rules = [{ action = "query" }]`,
			want: "action query requires sql",
		},
		{
			name: "fixture with sql and file",
			src: `[[fixtures]]
sql = "RETURN 1;"
file = "x.surql"`,
			want: "set sql or file, not both",
		},
		{
			name: "status out of range",
			src: `[[cases]]
name = "a"
kind = "api_request"
path = "/"
expected_status = 42`,
			want: "expected_status",
		},
		{
			name: "metadata without target",
			src: `[[cases]]
name = "a"
kind = "schema_metadata"
contains = ["x"]`,
			want: "requires table or sql",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.src), FormatTOML, "bad.toml")
			require.Error(t, err)
			assert.True(t, errs.IsConfig(err), "want ConfigError, got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseConfig_NormalizesActors(t *testing.T) {
	src := `
defaults:
  base_url: http://localhost:8080
  timeout_ms: 2500
actors:
  editor:
    kind: namespace_database
    username: editor
    password_env: EDITOR_PASSWORD
fixtures:
  - name: global
    file: fixtures/global.surql
`
	cfg, err := ParseConfig([]byte(src), FormatYAML, "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Defaults.BaseURL)
	assert.Equal(t, 2500, cfg.Defaults.TimeoutMS)
	assert.Equal(t, ActorDatabase, cfg.Actors["editor"].Kind)
	assert.Equal(t, "EDITOR_PASSWORD", cfg.Actors["editor"].PasswordEnv)
	require.Len(t, cfg.Fixtures, 1)
}

func TestParseConfig_RejectsLiteralToken(t *testing.T) {
	src := `[actors.svc]
kind = "token"
token = "eyJ..."`
	_, err := ParseConfig([]byte(src), FormatTOML, "config.toml")
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, err.Error(), "use token_env")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), "[actors.guest]\nkind = \"headers\"\nheaders = { X-Role = \"guest\" }\n")
	writeFile(t, filepath.Join(dir, "suites", "b", "second.yaml"), "name: second\ncases:\n  - name: one\n    kind: sql_expect\n    actor: guest\n    sql: RETURN 1;\n")
	writeFile(t, filepath.Join(dir, "suites", "a.toml"), "name = \"first\"\n[[cases]]\nname = \"one\"\nkind = \"sql_expect\"\nsql = \"RETURN 1;\"\n")
	writeFile(t, filepath.Join(dir, "suites", "README.md"), "ignored")

	specs, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), specs.ConfigFile)
	require.Len(t, specs.Suites, 2)
	assert.Equal(t, "a.toml", specs.Suites[0].File)
	assert.Equal(t, "b/second.yaml", specs.Suites[1].File)
	assert.Equal(t, filepath.Join(dir, "suites", "b"), specs.Suites[1].Dir)
}

func TestLoad_CollectsProblems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "suites", "ok.toml"), "[[cases]]\nname = \"one\"\nkind = \"sql_expect\"\nsql = \"RETURN 1;\"\n")
	writeFile(t, filepath.Join(dir, "suites", "bad1.toml"), "[[cases]]\nname = \"one\"\nkind = \"sql_expect\"\n")
	writeFile(t, filepath.Join(dir, "suites", "bad2.yaml"), "cases: [")

	_, err := Load(dir)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.CodeConfig, e.Code)
	assert.Contains(t, e.Message, "2 suite file(s) are invalid")
	assert.Len(t, e.Details, 2)
}

func TestLoad_UnknownActor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "suites", "a.toml"), "[[cases]]\nname = \"one\"\nkind = \"sql_expect\"\nactor = \"ghost\"\nsql = \"RETURN 1;\"\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, err.Error(), `unknown actor "ghost"`)
}

func TestLoad_NoSuites(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, err.Error(), "no suite files found")
}
