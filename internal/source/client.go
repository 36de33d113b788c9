// Package source reads rows from the PostgreSQL source store and marks them
// as propagated.
//
// All statements run over the simple query protocol. The source is commonly
// reached through a connection-pooling proxy (pgbouncer in transaction mode,
// the Supabase pooler) that rejects or conflicts on server-side prepared
// statements reused across pooled connections, so nothing here prepares.
// A side effect the row model depends on: simple-protocol results arrive
// text-encoded, which is where the raw text for value.Infer comes from.
package source

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ducktools/ducksync/internal/config"
	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/syncerr"
	"github.com/ducktools/ducksync/internal/value"
)

const storeName = "postgres"

// Client is the PostgreSQL source client. Fetches stream on a dedicated
// pooled connection; short statements (ping, counts, mark-synced) borrow
// from the pool.
type Client struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	markBatch    int
}

// Connect builds the connection pool and verifies connectivity.
func Connect(ctx context.Context, cfg config.PostgresConfig, batchSize int) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, syncerr.ConfigWrap(err, "invalid PostgreSQL URL")
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, syncerr.Connection(storeName, err)
	}

	c := &Client{pool: pool, queryTimeout: cfg.QueryTimeout, markBatch: batchSize}
	if err := c.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return syncerr.Connection(storeName, err)
	}
	return nil
}

// UnsyncedCount returns the number of rows whose sync flag is false.
func (c *Client) UnsyncedCount(ctx context.Context, m mapping.Table) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	var count int64
	err := c.pool.QueryRow(ctx, buildCountQuery(m)).Scan(&count)
	if err != nil {
		return 0, classify(m.SourceTable, err)
	}
	return count, nil
}

// MarkSynced sets the sync-flag column to true for exactly the given
// primary-key tuples, in chunks matching the write batch size. It is a
// no-op, not an error, when the mapping declares the source read-only.
func (c *Client) MarkSynced(ctx context.Context, m mapping.Table, keys [][]value.Value) (int64, error) {
	if !m.MarkSynced || len(keys) == 0 {
		return 0, nil
	}

	var marked int64
	for start := 0; start < len(keys); start += c.markBatch {
		end := min(start+c.markBatch, len(keys))

		n, err := c.markChunk(ctx, m, keys[start:end])
		marked += n
		if err != nil {
			return marked, err
		}
	}
	return marked, nil
}

func (c *Client) markChunk(ctx context.Context, m mapping.Table, keys [][]value.Value) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	query, args := buildMarkQuery(m, keys)
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, classify(m.SourceTable, err)
	}
	return tag.RowsAffected(), nil
}

// classify maps a driver error onto the sync error taxonomy. Statement
// rejections come back as PgError (non-retryable, table-scoped); everything
// else at this layer is transport trouble and treated as retryable.
func classify(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08 is "connection exception".
		if strings.HasPrefix(pgErr.Code, "08") {
			return syncerr.Connection(storeName, err)
		}
		return syncerr.Query(storeName, table, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return syncerr.Connection(storeName, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return syncerr.Connection(storeName, err)
	}

	return syncerr.Connection(storeName, err)
}
