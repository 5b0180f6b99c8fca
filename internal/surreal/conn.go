// Package surreal is the boundary to the database driver.
//
// The rest of surrealkit talks to SurrealDB only through the Querier, Conn
// and Dialer interfaces declared here. Client adapts the official Go SDK;
// tests substitute testutil.FakeDB.
package surreal

import (
	"context"
	"fmt"
)

// StatusOK is the status reported for a statement that succeeded.
const StatusOK = "OK"

// Result is the outcome of one statement in a query.
type Result struct {
	Status string
	Value  any
	Error  string
}

// OK reports whether the statement succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Querier executes SurrealQL with bound variables and returns one Result per
// statement. A non-nil error means the query could not be executed at all.
type Querier interface {
	Query(ctx context.Context, sql string, vars map[string]any) ([]Result, error)
}

// Credentials identify a principal for SignIn. Empty fields are omitted.
type Credentials struct {
	Namespace string
	Database  string
	Access    string
	Username  string
	Password  string

	// Params are extra variables passed to record access SIGNIN.
	Params map[string]any
}

// Conn is one database session.
type Conn interface {
	Querier

	// Use selects the namespace and database for subsequent statements.
	Use(ctx context.Context, namespace, database string) error

	// SignIn authenticates the session and returns the issued token.
	SignIn(ctx context.Context, creds Credentials) (string, error)

	// Authenticate attaches a pre-issued token to the session.
	Authenticate(ctx context.Context, token string) error

	Close(ctx context.Context) error
}

// Dialer opens new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// QueryError reports a statement that returned an error status.
type QueryError struct {
	// Index is the zero-based position of the failing statement.
	Index   int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("statement %d failed: %s", e.Index+1, e.Message)
}
