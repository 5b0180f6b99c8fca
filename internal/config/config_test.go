package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
)

// clearEnv unsets every bound variable for the duration of the test so
// values from the host or from earlier .env loads do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range settings {
		t.Setenv(s.env, "")
		require.NoError(t, os.Unsetenv(s.env))
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(Options{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, Database{Host: "http://localhost:8000", Namespace: "db", Name: "test", User: "root", Password: "root"}, cfg.Database)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, "database"), cfg.Project.Dir)
	assert.Equal(t, filepath.Join(dir, "database", ".surrealkit", "history.db"), cfg.HistoryPath())
	assert.Equal(t, "db/test", cfg.Target())
	assert.Empty(t, cfg.File)
}

func TestLoad_FileThenEnvThenFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	write(t, filepath.Join(dir, "surrealkit.yaml"), `
database:
  host: ws://db.internal:8000
  namespace: shop
  name: main
test:
  timeout_ms: 2500
log_level: debug
`)
	t.Setenv("PUBLIC_DATABASE_NAME", "staging")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("namespace", "", "")
	flags.String("host", "", "")
	require.NoError(t, flags.Parse([]string{"--namespace", "cli"}))

	cfg, err := Load(Options{WorkDir: dir, Flags: flags})
	require.NoError(t, err)
	assert.Equal(t, "ws://db.internal:8000", cfg.Database.Host, "unchanged flags do not override")
	assert.Equal(t, "cli", cfg.Database.Namespace)
	assert.Equal(t, "staging", cfg.Database.Name)
	assert.Equal(t, 2500, cfg.Test.TimeoutMS)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, "surrealkit.yaml"), cfg.File)
}

func TestLoad_TOMLConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "kit.toml")
	write(t, path, "shared = \"yes\"\nowner = \"ci\"\n\n[project]\ndir = \"/srv/db\"\n")

	cfg, err := Load(Options{WorkDir: dir, ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "/srv/db", cfg.Project.Dir)
	assert.Equal(t, "ci", cfg.Owner)
	assert.Equal(t, "yes", cfg.Getenv(guard.EnvShared))
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	write(t, filepath.Join(dir, ".env"), "PUBLIC_DATABASE_NAMESPACE=fromenv\nSURREALKIT_TEST_TIMEOUT_MS=3000\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("PUBLIC_DATABASE_NAMESPACE")
		_ = os.Unsetenv("SURREALKIT_TEST_TIMEOUT_MS")
	})

	cfg, err := Load(Options{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Database.Namespace)
	assert.Equal(t, 3000, cfg.Test.TimeoutMS)
}

func TestLoad_ExplicitEnvFileMustExist(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{WorkDir: t.TempDir(), EnvFile: "missing.env"})
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{name: "unknown key", file: "databse:\n  host: http://x\n", want: "invalid config"},
		{name: "bad host", env: map[string]string{"PUBLIC_DATABASE_HOST": "ftp://x"}, want: "invalid database host"},
		{name: "bad shared", env: map[string]string{guard.EnvShared: "maybe"}, want: "shared"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, want: "log_level"},
		{name: "negative timeout", file: "test:\n  timeout_ms: -5\n", want: "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			if tt.file != "" {
				write(t, filepath.Join(dir, "surrealkit.yaml"), tt.file)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(Options{WorkDir: dir})
			require.Error(t, err)
			assert.True(t, errs.IsConfig(err), "%v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Credentials(t *testing.T) {
	cfg := &Config{Database: Database{Namespace: "ns", Name: "db", User: "u", Password: "p"}}
	creds := cfg.Credentials()
	assert.Equal(t, "ns", creds.Namespace)
	assert.Equal(t, "db", creds.Database)
	assert.Equal(t, "u", creds.Username)
	assert.Equal(t, "p", creds.Password)
	assert.Empty(t, creds.Access)
}
