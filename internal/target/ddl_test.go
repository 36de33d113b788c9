package target

import (
	"testing"
	"time"

	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/value"
)

func testMapping() mapping.Table {
	return mapping.Table{
		SourceTable: "orders",
		TargetTable: "orders",
		PrimaryKey:  []string{"id"},
		Enabled:     true,
	}
}

// ----------------------------------------------------------------------------
// CREATE TABLE Tests
// ----------------------------------------------------------------------------

func TestBuildCreateTable(t *testing.T) {
	m := testMapping()
	s := value.Schema{Columns: []value.Column{
		{Name: "id", Kind: value.KindInt},
		{Name: "total", Kind: value.KindFloat},
		{Name: "note", Kind: value.KindText},
		{Name: "created_at", Kind: value.KindTimestamp},
	}}

	got := buildCreateTable(`"orders"`, m, s)
	want := `CREATE TABLE IF NOT EXISTS "orders" ("id" BIGINT NOT NULL, "total" DOUBLE, "note" VARCHAR, "created_at" TIMESTAMP, PRIMARY KEY ("id"))`
	if got != want {
		t.Errorf("buildCreateTable() =\n  %s\nwant\n  %s", got, want)
	}
}

func TestBuildCreateTable_CompositeKeyAndRenames(t *testing.T) {
	m := testMapping()
	m.PrimaryKey = []string{"tenant_id", "order_id"}
	m.Renames = map[string]string{"order_id": "id", "total": "amount"}

	s := value.Schema{Columns: []value.Column{
		{Name: "tenant_id", Kind: value.KindInt},
		{Name: "order_id", Kind: value.KindInt},
		{Name: "total", Kind: value.KindFloat},
	}}

	got := buildCreateTable(`"orders"`, m, s)
	want := `CREATE TABLE IF NOT EXISTS "orders" ("tenant_id" BIGINT NOT NULL, "id" BIGINT NOT NULL, "amount" DOUBLE, PRIMARY KEY ("tenant_id", "id"))`
	if got != want {
		t.Errorf("buildCreateTable() =\n  %s\nwant\n  %s", got, want)
	}
}

func TestBuildCreateTable_AllNullColumnIsVarchar(t *testing.T) {
	m := testMapping()
	s := value.Schema{Columns: []value.Column{
		{Name: "id", Kind: value.KindInt},
		{Name: "maybe", Kind: value.KindNull},
	}}

	got := buildCreateTable(`"orders"`, m, s)
	want := `CREATE TABLE IF NOT EXISTS "orders" ("id" BIGINT NOT NULL, "maybe" VARCHAR, PRIMARY KEY ("id"))`
	if got != want {
		t.Errorf("buildCreateTable() = %s, want %s", got, want)
	}
}

// ----------------------------------------------------------------------------
// Upsert Tests
// ----------------------------------------------------------------------------

func TestBuildUpsert(t *testing.T) {
	m := testMapping()
	m.Renames = map[string]string{"total": "amount"}

	cols := []string{"id", "total"}
	rows := []value.Row{
		{Columns: cols, Values: []value.Value{value.Int(1), value.Float(9.5)}},
		{Columns: cols, Values: []value.Value{value.Int(2), value.Null()}},
	}

	query, args := buildUpsert(`"orders"`, m, rows)

	want := `INSERT OR REPLACE INTO "orders" ("id", "amount") VALUES (?, ?), (?, ?)`
	if query != want {
		t.Errorf("query = %s, want %s", query, want)
	}

	wantArgs := []any{int64(1), 9.5, int64(2), nil}
	if len(args) != len(wantArgs) {
		t.Fatalf("args = %d, want %d", len(args), len(wantArgs))
	}
	for i, a := range wantArgs {
		if args[i] != a {
			t.Errorf("args[%d] = %v (%T), want %v", i, args[i], args[i], a)
		}
	}
}

func TestBuildUpsert_TimestampArg(t *testing.T) {
	m := testMapping()
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	rows := []value.Row{{
		Columns: []string{"id", "created_at"},
		Values:  []value.Value{value.Int(1), value.Timestamp(ts)},
	}}

	_, args := buildUpsert(`"orders"`, m, rows)
	if got, ok := args[1].(time.Time); !ok || !got.Equal(ts) {
		t.Errorf("args[1] = %v (%T), want %v", args[1], args[1], ts)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent(`weird"name`); got != `"weird""name"` {
		t.Errorf("quoteIdent = %s", got)
	}
}
