package source

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/syncerr"
	"github.com/ducktools/ducksync/internal/value"
)

// RowIter is a lazy, finite, non-restartable sequence of typed rows for one
// table. It pins one pooled connection until Close.
type RowIter struct {
	conn *pgxpool.Conn
	rows pgx.Rows
	m    mapping.Table

	cols    []string // output column names, sync flag excluded
	pkIdx   []int    // positions of primary key columns within cols
	flagIdx int      // position of the sync flag in the result set, -1 if absent

	done bool
}

// Fetch issues the table's select and returns an iterator over its rows.
// In incremental mode the predicate excludes rows already flagged synced;
// in full mode only the mapping's own filter applies. The fetch holds the
// run's context: a long table must not be cut short by the per-statement
// timeout used for point queries.
func (c *Client) Fetch(ctx context.Context, m mapping.Table, full bool, limit int) (*RowIter, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, syncerr.Connection(storeName, err)
	}

	rows, err := conn.Query(ctx, buildFetchQuery(m, full, limit))
	if err != nil {
		conn.Release()
		return nil, classify(m.SourceTable, err)
	}

	it := &RowIter{conn: conn, rows: rows, m: m, flagIdx: -1}
	for i, fd := range rows.FieldDescriptions() {
		name := string(fd.Name)
		if name == m.SyncFlagColumn {
			it.flagIdx = i
			continue
		}
		it.cols = append(it.cols, name)
	}

	for _, pk := range m.PrimaryKey {
		idx := -1
		for i, col := range it.cols {
			if col == pk {
				idx = i
				break
			}
		}
		if idx < 0 {
			rows.Close()
			conn.Release()
			return nil, syncerr.Query(storeName, m.SourceTable,
				fmt.Errorf("primary key column %q not present in result set", pk))
		}
		it.pkIdx = append(it.pkIdx, idx)
	}

	return it, nil
}

// Next returns up to n rows, or a nil slice when the sequence is exhausted.
// Values are coerced from their text encoding exactly once, here.
func (it *RowIter) Next(ctx context.Context, n int) ([]value.Row, error) {
	if it.done {
		return nil, nil
	}

	batch := make([]value.Row, 0, n)
	for len(batch) < n {
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}
		if !it.rows.Next() {
			it.done = true
			if err := it.rows.Err(); err != nil {
				return batch, classify(it.m.SourceTable, err)
			}
			break
		}

		row, err := it.decodeRow()
		if err != nil {
			return batch, err
		}
		batch = append(batch, row)
	}

	if len(batch) == 0 {
		return nil, nil
	}
	return batch, nil
}

func (it *RowIter) decodeRow() (value.Row, error) {
	raw := it.rows.RawValues()

	values := make([]value.Value, 0, len(it.cols))
	for i, cell := range raw {
		if i == it.flagIdx {
			continue
		}
		if cell == nil {
			values = append(values, value.Null())
			continue
		}
		// RawValues is only valid until the next Next call; string() copies.
		values = append(values, value.Infer(string(cell)))
	}

	row := value.Row{Columns: it.cols, Values: values}

	for j, idx := range it.pkIdx {
		if values[idx].IsNull() {
			return value.Row{}, syncerr.Query(storeName, it.m.SourceTable,
				fmt.Errorf("primary key column %q is null", it.m.PrimaryKey[j]))
		}
	}

	return row, nil
}

// Keys extracts the primary-key tuples of the given rows, in order.
func (it *RowIter) Keys(rows []value.Row) [][]value.Value {
	keys := make([][]value.Value, len(rows))
	for i, row := range rows {
		key := make([]value.Value, len(it.pkIdx))
		for j, idx := range it.pkIdx {
			key[j] = row.Values[idx]
		}
		keys[i] = key
	}
	return keys
}

// Close drains nothing, closes the cursor, and releases the pinned
// connection. Safe to call more than once.
func (it *RowIter) Close() {
	if it.rows != nil {
		it.rows.Close()
		it.rows = nil
	}
	if it.conn != nil {
		it.conn.Release()
		it.conn = nil
	}
	it.done = true
}
