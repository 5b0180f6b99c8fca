// Package harness runs declarative database test suites.
//
// Each suite runs in its own ephemeral namespace and database. The runner
// allocates the scope, applies setup.surql, syncs the schema, runs
// seed.surql and the fixtures, resolves the actors, executes the cases in
// order and removes the scope again.
//
// # Suite Format
//
// Suites are TOML or YAML files under database/tests/suites:
//
//	name = "orders"
//	tags = ["orders", "permissions"]
//
//	[actors.guest]
//	kind = "record"
//	access = "account"
//	params_env = "GUEST_SIGNIN"
//
//	[[fixtures]]
//	sql = "CREATE product:1 SET name = 'pen';"
//
//	[[cases]]
//	name = "guest_cannot_create_order"
//	kind = "sql_expect"
//	actor = "guest"
//	sql = "CREATE order SET total = 1;"
//	allow = false
//	error_contains = "permission"
//
// Every document is validated against the embedded suite.cue schema before
// it is decoded, so unknown fields and wrong types are reported with their
// path instead of being ignored.
//
// # Case Kinds
//
//   - sql_expect: run one statement, expect success or a matching error
//   - permissions_matrix: run create/select/update/delete/query per rule
//   - schema_metadata: inspect INFO FOR output
//   - schema_behavior: run setup statements, an action and a verify query
//   - api_request: call an HTTP endpoint and check status, headers and body
//
// # Actors
//
// Actors are declared in tests/config.* and in suites (suite wins). Secrets
// are never written literally: passwords, tokens and record params come from
// the environment through the *_env fields. An implicit root actor built
// from the configured database credentials is always available.
package harness
