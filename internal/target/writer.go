package target

import (
	"context"
	"database/sql"

	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/syncerr"
	"github.com/ducktools/ducksync/internal/value"
)

// Writer performs batched upserts into one destination table over a single
// checked-out connection.
type Writer struct {
	conn      *sql.Conn
	m         mapping.Table
	qualified string
	chunkSize int
}

// Writer checks out a dedicated connection for the table's writes. Callers
// must Close it when the table finishes.
func (c *Client) Writer(ctx context.Context, m mapping.Table) (*Writer, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, syncerr.Connection(storeName, err)
	}
	return &Writer{
		conn:      conn,
		m:         m,
		qualified: c.qualify(m.TargetTable),
		chunkSize: c.batchSize,
	}, nil
}

// WriteChunk upserts the given rows, splitting them into transactions of at
// most the configured batch size. It returns the number of rows durably
// committed, which on error counts only the chunks that committed before the
// failure. A chunk that has begun committing is never abandoned mid-flight:
// cancellation takes effect between chunks.
func (w *Writer) WriteChunk(ctx context.Context, rows []value.Row) (int64, error) {
	var written int64
	for start := 0; start < len(rows); start += w.chunkSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+w.chunkSize, len(rows))

		if err := w.writeTx(context.WithoutCancel(ctx), rows[start:end]); err != nil {
			return written, err
		}
		written += int64(end - start)
	}
	return written, nil
}

func (w *Writer) writeTx(ctx context.Context, chunk []value.Row) error {
	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(w.m.TargetTable, err)
	}

	query, args := buildUpsert(w.qualified, w.m, chunk)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return classify(w.m.TargetTable, err)
	}

	if err := tx.Commit(); err != nil {
		return classify(w.m.TargetTable, err)
	}
	return nil
}

// Close returns the connection to the pool.
func (w *Writer) Close() error {
	return w.conn.Close()
}
