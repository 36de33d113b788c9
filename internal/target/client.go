// Package target ensures destination tables exist in DuckDB/MotherDuck and
// performs idempotent batched writes into them.
//
// Writes use replace-on-conflict semantics keyed by the mapping's primary
// key: a row whose key already exists is fully replaced. Each chunk commits
// in its own transaction; a failed chunk rolls back alone and never touches
// chunks that already committed.
package target

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/ducktools/ducksync/internal/config"
	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/syncerr"
	"github.com/ducktools/ducksync/internal/value"
)

const storeName = "duckdb"

// Client is the DuckDB/MotherDuck target client.
type Client struct {
	db        *sql.DB
	schema    string
	batchSize int
}

// Connect opens the target database, optionally creating the MotherDuck
// database first, and prepares the sync_metadata bookkeeping table.
func Connect(ctx context.Context, cfg config.DuckDBConfig, batchSize int) (*Client, error) {
	if bootstrap := cfg.BootstrapDSN(); bootstrap != "" {
		if err := createDatabase(ctx, bootstrap, cfg.Database); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("duckdb", cfg.DSN())
	if err != nil {
		return nil, syncerr.Connection(storeName, err)
	}

	c := &Client{db: db, schema: cfg.Schema, batchSize: batchSize}
	if err := c.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if c.schema != "" && c.schema != "main" {
		if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(c.schema)); err != nil {
			db.Close()
			return nil, syncerr.Schema(c.schema, err)
		}
	}

	if _, err := db.ExecContext(ctx, c.metadataDDL()); err != nil {
		db.Close()
		return nil, syncerr.Schema(metadataTable, err)
	}

	return c, nil
}

func createDatabase(ctx context.Context, dsn, database string) error {
	boot, err := sql.Open("duckdb", dsn)
	if err != nil {
		return syncerr.Connection(storeName, err)
	}
	defer boot.Close()

	if _, err := boot.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(database)); err != nil {
		return syncerr.Connection(storeName, err)
	}
	return nil
}

// Close releases the database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return syncerr.Connection(storeName, err)
	}
	return nil
}

// EnsureSchema creates the destination table if absent, with column types
// taken from the first observed batch's inferred schema. It never alters an
// existing table and is safe to call on every run.
func (c *Client) EnsureSchema(ctx context.Context, m mapping.Table, s value.Schema) error {
	ddl := buildCreateTable(c.qualify(m.TargetTable), m, s)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return syncerr.Schema(m.TargetTable, err)
	}
	return nil
}

// TableExists reports whether the destination table is already present.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	query := "SELECT count(*) FROM information_schema.tables WHERE table_name = ?"
	args := []any{table}
	if c.schema != "" {
		query += " AND table_schema = ?"
		args = append(args, c.schema)
	}

	var count int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, classify(table, err)
	}
	return count > 0, nil
}

// CountRows returns the destination table's row count.
func (c *Client) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM "+c.qualify(table)).Scan(&count)
	if err != nil {
		return 0, classify(table, err)
	}
	return count, nil
}

const metadataTable = "sync_metadata"

func (c *Client) metadataDDL() string {
	return "CREATE TABLE IF NOT EXISTS " + c.qualify(metadataTable) + ` (
    table_name VARCHAR PRIMARY KEY,
    last_sync_at TIMESTAMP,
    records_synced BIGINT,
    sync_mode VARCHAR
)`
}

// RecordSync upserts the per-table bookkeeping row after a table completes.
func (c *Client) RecordSync(ctx context.Context, m mapping.Table, mode string, rows int64) error {
	query := "INSERT OR REPLACE INTO " + c.qualify(metadataTable) +
		" (table_name, last_sync_at, records_synced, sync_mode) VALUES (?, ?, ?, ?)"
	if _, err := c.db.ExecContext(ctx, query, m.TargetTable, time.Now().UTC(), rows, mode); err != nil {
		return classify(metadataTable, err)
	}
	return nil
}

func (c *Client) qualify(table string) string {
	if c.schema != "" && c.schema != "main" {
		return quoteIdent(c.schema) + "." + quoteIdent(table)
	}
	return quoteIdent(table)
}

// classify maps a driver error onto the sync error taxonomy. DuckDB's
// database/sql driver does not expose structured error codes, so transport
// signals (timeouts, net errors) mark retryable and everything else is a
// table-scoped query error.
func classify(table string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return syncerr.Connection(storeName, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return syncerr.Connection(storeName, err)
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return syncerr.Connection(storeName, err)
	}

	return syncerr.Query(storeName, table, err)
}
