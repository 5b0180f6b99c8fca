//go:build integration

package surreal_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/harness"
	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// startSurreal runs an in-memory SurrealDB and returns its http endpoint.
func startSurreal(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.Run(ctx, "surrealdb/surrealdb:v2.3.7",
		testcontainers.WithExposedPorts("8000/tcp"),
		testcontainers.WithCmd("start", "--user", "root", "--pass", "root", "memory"),
		testcontainers.WithWaitStrategy(wait.ForHTTP("/health").WithPort("8000/tcp").WithStartupTimeout(time.Minute)),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.PortEndpoint(ctx, "8000/tcp", "http")
	require.NoError(t, err)
	return endpoint
}

func rootSession(t *testing.T, dialer surreal.Dialer) surreal.Conn {
	t.Helper()
	ctx := context.Background()
	conn, err := dialer.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	_, err = conn.SignIn(ctx, surreal.Credentials{Username: "root", Password: "root"})
	require.NoError(t, err)
	require.NoError(t, conn.Use(ctx, "it", "main"))
	return conn
}

func TestClient_QueryAgainstServer(t *testing.T) {
	dialer := surreal.SDKDialer{Endpoint: startSurreal(t)}
	conn := rootSession(t, dialer)
	ctx := context.Background()

	results, err := conn.Query(ctx, "DEFINE TABLE widget SCHEMALESS; CREATE widget:one SET size = $size; SELECT size FROM widget;", map[string]any{"size": 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, surreal.StatusOK, r.Status, r.Error)
	}
	rows, ok := results[2].Value.([]any)
	require.True(t, ok, "%T", results[2].Value)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 3, rows[0].(map[string]any)["size"])

	results, err = conn.Query(ctx, "THROW 'nope';", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEqual(t, surreal.StatusOK, results[0].Status)
	assert.Contains(t, results[0].Error, "nope")
}

func TestReconcile_SyncAndTestAgainstServer(t *testing.T) {
	dialer := surreal.SDKDialer{Endpoint: startSurreal(t)}
	conn := rootSession(t, dialer)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	paths := reconcile.NewPaths(filepath.Join(t.TempDir(), "database"))
	_, err := reconcile.Scaffold(paths)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(paths.Schema, "order.surql"),
		[]byte("DEFINE TABLE order SCHEMAFULL;\nDEFINE FIELD total ON order TYPE number;\n"), 0o644))

	r := reconcile.New(paths, conn, logger)
	r.Target = "it/main"
	r.Detector.Getenv = func(key string) string {
		if key == guard.EnvShared {
			return "false"
		}
		return ""
	}
	require.NoError(t, r.Setup(ctx))

	res, err := r.Sync(ctx, reconcile.DefaultSyncOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)

	again, err := r.Sync(ctx, reconcile.DefaultSyncOptions())
	require.NoError(t, err)
	assert.True(t, again.ChangeSet.Empty())

	rep, err := r.Status(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, rep.Live)
	assert.True(t, rep.Live.Clean(), "%+v", rep.Live)

	specs, err := harness.Load(paths.Tests)
	require.NoError(t, err)
	runner := harness.NewRunner(paths, dialer, surreal.Credentials{Namespace: "it", Database: "main", Username: "root", Password: "root"}, logger)
	runner.Target = "it/main"
	report, err := runner.Run(ctx, specs, harness.Options{Parallel: 2, Timeout: 10 * time.Second})
	require.NoError(t, err)
	assert.True(t, report.Passed(), "%+v", report.Suites)
}
