package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// Scope is the ephemeral namespace/database pair owned by one suite run.
type Scope struct {
	Namespace string
	Database  string
}

func (s Scope) String() string {
	return s.Namespace + "/" + s.Database
}

// RunIDs generates run ids. Scope names embed them, so ids must be unique
// across concurrent runs against the same server.
type RunIDs interface {
	NewRunID() string
}

// UUIDRunIDs generates time-ordered UUIDv7 ids without dashes.
type UUIDRunIDs struct{}

// NewRunID implements RunIDs.
func (UUIDRunIDs) NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// NewScope names the scope of the n-th suite of a run:
// <base>_sk_test_<runid>_<n>_<slug> for both namespace and database. The
// index keeps names unique when two suites slug the same.
func NewScope(baseNS, baseDB, runID string, n int, suite *Suite) Scope {
	slug := Slugify(suite.Label())
	name := func(base string) string {
		return fmt.Sprintf("%s_sk_test_%s_%d_%s", Slugify(base), runID, n, slug)
	}
	return Scope{Namespace: name(baseNS), Database: name(baseDB)}
}

// Slugify lowercases s and collapses every run of non-alphanumeric
// characters to one underscore. An empty result becomes "suite".
func Slugify(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "suite"
	}
	return out
}

// allocate creates the namespace and database of scope through a root
// connection and selects them.
func allocate(ctx context.Context, conn surreal.Conn, scope Scope) error {
	sql := fmt.Sprintf("DEFINE NAMESPACE IF NOT EXISTS %s; USE NS %s; DEFINE DATABASE IF NOT EXISTS %s;",
		surreal.Ident(scope.Namespace), surreal.Ident(scope.Namespace), surreal.Ident(scope.Database))
	if _, err := surreal.ExecAll(ctx, conn, sql, nil); err != nil {
		return errs.Execution(scope.String(), "allocate scope", err)
	}
	if err := conn.Use(ctx, scope.Namespace, scope.Database); err != nil {
		return errs.Execution(scope.String(), "use scope", err)
	}
	return nil
}

// release removes the scope's namespace, and with it the database.
func release(ctx context.Context, conn surreal.Conn, scope Scope) error {
	sql := fmt.Sprintf("REMOVE NAMESPACE IF EXISTS %s;", surreal.Ident(scope.Namespace))
	if _, err := surreal.ExecAll(ctx, conn, sql, nil); err != nil {
		return errs.Execution(scope.String(), "remove scope", err)
	}
	return nil
}
