// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Postgres PostgresConfig
	DuckDB   DuckDBConfig
	Sync     SyncConfig
	Retry    RetryConfig
	Logging  LoggingConfig
	Status   StatusConfig
}

// PostgresConfig holds source database connection settings.
type PostgresConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and POSTGRES_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"POSTGRES_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"PG_MAX_CONNS" default:"5"`

	// ConnectTimeout bounds the initial connection attempt (default: 30s)
	ConnectTimeout time.Duration `env:"PG_CONNECT_TIMEOUT" default:"30s"`

	// QueryTimeout bounds each statement issued to the source (default: 60s)
	QueryTimeout time.Duration `env:"PG_QUERY_TIMEOUT" default:"60s"`
}

// DuckDBConfig holds target database connection settings. Either a local
// database path or a MotherDuck database+token.
type DuckDBConfig struct {
	// Path is a local DuckDB file path. Takes precedence over MotherDuck
	// settings when set; useful for development and tests.
	Path string `env:"DUCKDB_PATH"`

	// Database is the MotherDuck database name (default: analytics)
	Database string `env:"MOTHERDUCK_DATABASE" default:"analytics"`

	// Token is the MotherDuck access token
	Token string `env:"MOTHERDUCK_TOKEN"`

	// Schema is the target schema (default: main)
	Schema string `env:"MOTHERDUCK_SCHEMA" default:"main"`

	// CreateDatabase creates the database on connect if missing (default: true)
	CreateDatabase bool `env:"MOTHERDUCK_CREATE_DATABASE" default:"true"`
}

// SyncConfig holds sync pipeline behavior settings.
type SyncConfig struct {
	// BatchSize is rows per fetch batch and per write transaction (default: 1000)
	BatchSize int `env:"SYNC_BATCH_SIZE" default:"1000"`

	// MarkSynced globally gates flag updates on the source (default: true).
	// Individual mappings can additionally opt out.
	MarkSynced bool `env:"SYNC_MARK_SYNCED" default:"true"`

	// MaxRecords caps rows fetched per table, 0 = unlimited (default: 0)
	MaxRecords int `env:"SYNC_MAX_RECORDS" default:"0"`

	// AutoCreateTables creates missing target tables from inferred
	// first-batch schemas (default: true)
	AutoCreateTables bool `env:"SYNC_AUTO_CREATE_TABLES" default:"true"`
}

// RetryConfig holds backoff settings for remote calls.
type RetryConfig struct {
	// MaxRetries is retries per operation after the first attempt (default: 3)
	MaxRetries int `env:"RETRY_MAX_RETRIES" default:"3"`

	// InitialBackoff is the delay before the first retry (default: 1s)
	InitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" default:"1s"`

	// MaxBackoff caps the delay between retries (default: 60s)
	MaxBackoff time.Duration `env:"RETRY_MAX_BACKOFF" default:"60s"`

	// Multiplier grows the delay between retries (default: 2.0)
	Multiplier float64 `env:"RETRY_MULTIPLIER" default:"2.0"`

	// Jitter randomizes delays to avoid thundering herds (default: true)
	Jitter bool `env:"RETRY_JITTER" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// StatusConfig holds the optional status HTTP server settings.
type StatusConfig struct {
	// Addr is the listen address for /healthz, /status, and /metrics.
	// Empty disables the server.
	Addr string `env:"STATUS_ADDR"`
}

// DSN returns the DuckDB connection string. Local paths win over MotherDuck.
func (c DuckDBConfig) DSN() string {
	if c.Path != "" {
		return c.Path
	}
	return fmt.Sprintf("md:%s?motherduck_token=%s", c.Database, c.Token)
}

// BootstrapDSN returns the connection string used to create the MotherDuck
// database before attaching to it. Empty when no bootstrap is needed.
func (c DuckDBConfig) BootstrapDSN() string {
	if c.Path != "" || !c.CreateDatabase {
		return ""
	}
	return "md:?motherduck_token=" + c.Token
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Postgres.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		errs = append(errs, "PG_MAX_CONNS must be positive")
	}
	if c.Postgres.ConnectTimeout <= 0 {
		errs = append(errs, "PG_CONNECT_TIMEOUT must be positive")
	}
	if c.Postgres.QueryTimeout <= 0 {
		errs = append(errs, "PG_QUERY_TIMEOUT must be positive")
	}

	if c.DuckDB.Path == "" && c.DuckDB.Token == "" {
		errs = append(errs, "either DUCKDB_PATH or MOTHERDUCK_TOKEN is required")
	}
	if c.DuckDB.Path == "" && c.DuckDB.Database == "" {
		errs = append(errs, "MOTHERDUCK_DATABASE is required when syncing to MotherDuck")
	}

	if c.Sync.BatchSize <= 0 {
		errs = append(errs, "SYNC_BATCH_SIZE must be positive")
	}
	if c.Sync.MaxRecords < 0 {
		errs = append(errs, "SYNC_MAX_RECORDS must be non-negative")
	}

	if c.Retry.MaxRetries < 0 || c.Retry.MaxRetries > 10 {
		errs = append(errs, "RETRY_MAX_RETRIES must be 0-10")
	}
	if c.Retry.InitialBackoff <= 0 {
		errs = append(errs, "RETRY_INITIAL_BACKOFF must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, "RETRY_MAX_BACKOFF must be >= RETRY_INITIAL_BACKOFF")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "RETRY_MULTIPLIER must be >= 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like connection URLs and tokens are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Postgres: {URL: [MASKED], MaxConns: %d}, ", c.Postgres.MaxConns))
	if c.DuckDB.Path != "" {
		b.WriteString(fmt.Sprintf("DuckDB: {Path: %q}, ", c.DuckDB.Path))
	} else {
		b.WriteString(fmt.Sprintf("DuckDB: {Database: %q, Token: [MASKED], Schema: %q}, ",
			c.DuckDB.Database, c.DuckDB.Schema))
	}
	b.WriteString(fmt.Sprintf("Sync: {BatchSize: %d, MarkSynced: %v, MaxRecords: %d}, ",
		c.Sync.BatchSize, c.Sync.MarkSynced, c.Sync.MaxRecords))
	b.WriteString(fmt.Sprintf("Retry: {MaxRetries: %d, InitialBackoff: %s, MaxBackoff: %s}, ",
		c.Retry.MaxRetries, c.Retry.InitialBackoff, c.Retry.MaxBackoff))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
