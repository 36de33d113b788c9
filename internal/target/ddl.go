package target

import (
	"slices"
	"strings"

	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/value"
)

// quoteIdent quotes and escapes a DuckDB identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildCreateTable renders the CREATE TABLE IF NOT EXISTS statement for a
// destination table. Column names are the mapping's renamed names; types come
// from the inferred schema; primary-key columns are NOT NULL and form the
// table's primary key.
func buildCreateTable(qualified string, m mapping.Table, s value.Schema) string {
	var b strings.Builder

	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(qualified)
	b.WriteString(" (")

	for i, col := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(m.TargetColumn(col.Name)))
		b.WriteString(" ")
		b.WriteString(col.Kind.DuckDBType())
		if slices.Contains(m.PrimaryKey, col.Name) {
			b.WriteString(" NOT NULL")
		}
	}

	b.WriteString(", PRIMARY KEY (")
	for i, pk := range m.PrimaryKey {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(m.TargetColumn(pk)))
	}
	b.WriteString("))")

	return b.String()
}

// buildUpsert renders one multi-row INSERT OR REPLACE statement for a chunk.
// Replace-on-conflict keyed by the table's primary key makes re-delivery of
// a chunk after a partial failure idempotent.
func buildUpsert(qualified string, m mapping.Table, rows []value.Row) (string, []any) {
	cols := rows[0].Columns

	var b strings.Builder
	b.WriteString("INSERT OR REPLACE INTO ")
	b.WriteString(qualified)
	b.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(m.TargetColumn(col)))
	}
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.Repeat("?, ", len(cols)-1) + "?)"
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row.Values {
			args = append(args, v.Arg())
		}
	}

	return b.String(), args
}
