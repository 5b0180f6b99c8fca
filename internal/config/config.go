// Package config layers surrealkit settings: built-in defaults, an optional
// surrealkit.{yaml,toml} file, a .env file and the process environment.
// Command-line flags bound through Options.Flags win over all of them.
//
// A Config is read once per invocation and is not mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/guard"
	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// FileName is the config file base name searched in the working directory.
const FileName = "surrealkit"

// DefaultEnvFile is loaded when present and no --env-file is given.
const DefaultEnvFile = ".env"

// Config is the resolved configuration.
type Config struct {
	Database Database `mapstructure:"database"`

	// Shared overrides target detection when set (SURREALKIT_SHARED_DB).
	Shared string `mapstructure:"shared"`

	// Owner is recorded in sync metadata and audit events.
	Owner string `mapstructure:"owner"`

	Test     Test    `mapstructure:"test"`
	LogLevel string  `mapstructure:"log_level"`
	Project  Project `mapstructure:"project"`

	// File is the config file that was read, or "".
	File string `mapstructure:"-"`
}

// Database is the connection to the target.
type Database struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	Name      string `mapstructure:"name"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
}

// Test holds test runner defaults.
type Test struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// Project locates the database directory.
type Project struct {
	Dir string `mapstructure:"dir"`
}

type setting struct {
	key  string
	env  string
	def  any
	flag string
}

var settings = []setting{
	{key: "database.host", env: "PUBLIC_DATABASE_HOST", def: "http://localhost:8000", flag: "host"},
	{key: "database.namespace", env: "PUBLIC_DATABASE_NAMESPACE", def: "db", flag: "namespace"},
	{key: "database.name", env: "PUBLIC_DATABASE_NAME", def: "test", flag: "database"},
	{key: "database.user", env: "DATABASE_USER", def: "root", flag: "user"},
	{key: "database.password", env: "DATABASE_PASSWORD", def: "root"},
	{key: "shared", env: guard.EnvShared, def: ""},
	{key: "owner", env: "SURREALKIT_OWNER", def: ""},
	{key: "test.base_url", env: "SURREALKIT_TEST_BASE_URL", def: ""},
	{key: "test.timeout_ms", env: "SURREALKIT_TEST_TIMEOUT_MS", def: 0},
	{key: "log_level", env: "LOG_LEVEL", def: "info", flag: "log-level"},
	{key: "project.dir", env: "SURREALKIT_PROJECT_DIR", def: "database", flag: "dir"},
}

// Options control where configuration is read from.
type Options struct {
	// ConfigFile is an explicit config path. Empty searches WorkDir for
	// surrealkit.yaml, surrealkit.yml or surrealkit.toml.
	ConfigFile string

	// EnvFile is an explicit dotenv path. Empty loads WorkDir/.env when it
	// exists.
	EnvFile string

	// WorkDir defaults to the current directory.
	WorkDir string

	// Flags, when set, are bound to their keys. Only flags the user changed
	// take precedence.
	Flags *pflag.FlagSet
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	dir := opts.WorkDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
		dir = wd
	}

	if err := loadEnvFile(dir, opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}
		if s.flag == "" || opts.Flags == nil {
			continue
		}
		if f := opts.Flags.Lookup(s.flag); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, fmt.Errorf("bind --%s: %w", s.flag, err)
			}
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName(FileName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, errs.WrapConfig(configLabel(opts.ConfigFile), "cannot read config file", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, errs.WrapConfig(configLabel(v.ConfigFileUsed()), "invalid config", err)
	}
	cfg.File = v.ConfigFileUsed()

	if !filepath.IsAbs(cfg.Project.Dir) {
		cfg.Project.Dir = filepath.Join(dir, cfg.Project.Dir)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(dir, path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errs.WrapConfig(path, "cannot load env file", err)
		}
		return nil
	}
	def := filepath.Join(dir, DefaultEnvFile)
	if _, err := os.Stat(def); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(def); err != nil {
		return errs.WrapConfig(def, "cannot load env file", err)
	}
	return nil
}

func configLabel(path string) string {
	if path == "" {
		return FileName
	}
	return path
}

func (c *Config) validate() error {
	if _, err := surreal.RPCEndpoint(c.Database.Host); err != nil {
		return errs.WrapConfig("database.host", "invalid database host", err)
	}
	if c.Database.Namespace == "" || c.Database.Name == "" {
		return errs.Config("database", "namespace and name are required")
	}
	if c.Shared != "" {
		if _, err := guard.ParseBool(c.Shared); err != nil {
			return errs.WrapConfig("shared", "invalid value", err)
		}
	}
	if c.Test.TimeoutMS < 0 {
		return errs.Config("test.timeout_ms", "must not be negative, got %d", c.Test.TimeoutMS)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errs.Config("log_level", "must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Paths returns the project layout under Project.Dir.
func (c *Config) Paths() reconcile.Paths {
	return reconcile.NewPaths(c.Project.Dir)
}

// Credentials returns the root credentials and default scope.
func (c *Config) Credentials() surreal.Credentials {
	return surreal.Credentials{
		Namespace: c.Database.Namespace,
		Database:  c.Database.Name,
		Username:  c.Database.User,
		Password:  c.Database.Password,
	}
}

// Target labels the configured database in logs and reports.
func (c *Config) Target() string {
	return c.Database.Namespace + "/" + c.Database.Name
}

// Getenv reads the process environment, answering the shared flag from the
// resolved configuration so a config file value reaches target detection.
func (c *Config) Getenv(key string) string {
	if key == guard.EnvShared && c.Shared != "" {
		return c.Shared
	}
	return os.Getenv(key)
}

// HistoryPath is the local run history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths().State, "history.db")
}
