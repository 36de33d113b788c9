package source

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/value"
)

// quoteIdent quotes and escapes a SQL identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// buildFetchQuery constructs the select for one table. Incremental mode
// adds NOT <sync-flag>; the mapping's own filter is always ANDed in;
// ordering and a row cap apply when configured.
func buildFetchQuery(m mapping.Table, full bool, limit int) string {
	var b strings.Builder

	b.WriteString("SELECT ")
	if len(m.Columns) > 0 {
		quoted := make([]string, len(m.Columns))
		for i, col := range m.Columns {
			quoted[i] = quoteIdent(col)
		}
		b.WriteString(strings.Join(quoted, ", "))
	} else {
		b.WriteString("*")
	}
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(m.SourceTable))

	var conditions []string
	if !full {
		conditions = append(conditions, "NOT "+quoteIdent(m.SyncFlagColumn))
	}
	if m.Filter != "" {
		conditions = append(conditions, "("+m.Filter+")")
	}
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}

	if m.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(quoteIdent(m.OrderBy))
	}

	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	return b.String()
}

// buildCountQuery counts rows not yet flagged synced.
func buildCountQuery(m mapping.Table) string {
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE NOT %s",
		quoteIdent(m.SourceTable), quoteIdent(m.SyncFlagColumn))
	if m.Filter != "" {
		q += " AND (" + m.Filter + ")"
	}
	return q
}

// buildMarkQuery constructs the flag update for a chunk of primary-key
// tuples. Keys compare as text so one statement shape serves integer, uuid,
// and text keys alike.
func buildMarkQuery(m mapping.Table, keys [][]value.Value) (string, []any) {
	table := quoteIdent(m.SourceTable)
	flag := quoteIdent(m.SyncFlagColumn)

	if len(m.PrimaryKey) == 1 {
		ids := make([]string, len(keys))
		for i, key := range keys {
			ids[i] = key[0].Text()
		}
		query := fmt.Sprintf("UPDATE %s SET %s = TRUE WHERE %s::text = ANY($1)",
			table, flag, quoteIdent(m.PrimaryKey[0]))
		return query, []any{ids}
	}

	cols := make([]string, len(m.PrimaryKey))
	for i, pk := range m.PrimaryKey {
		cols[i] = quoteIdent(pk) + "::text"
	}

	var args []any
	tuples := make([]string, len(keys))
	for i, key := range keys {
		placeholders := make([]string, len(key))
		for j, v := range key {
			args = append(args, v.Text())
			placeholders[j] = fmt.Sprintf("$%d", len(args))
		}
		tuples[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	query := fmt.Sprintf("UPDATE %s SET %s = TRUE WHERE (%s) IN (%s)",
		table, flag, strings.Join(cols, ", "), strings.Join(tuples, ", "))
	return query, args
}
