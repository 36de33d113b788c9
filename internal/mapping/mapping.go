// Package mapping defines the declarative description of one source→target
// table relationship. Mappings are validated at construction time and never
// mutated during a run.
package mapping

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ducktools/ducksync/internal/syncerr"
)

// DefaultSyncFlagColumn is the conventional boolean column marking a source
// row as propagated.
const DefaultSyncFlagColumn = "synced_to_duckdb"

var validate = validator.New()

// Table maps one source table to one target table.
//
// JSON field names match the table-set config format accepted from the
// environment (see internal/config).
type Table struct {
	// SourceTable is the table (or view) read from PostgreSQL.
	SourceTable string `json:"source" validate:"required,max=128"`

	// TargetTable is the table written in DuckDB.
	TargetTable string `json:"target" validate:"required,max=128"`

	// PrimaryKey lists the key columns, in order. Never empty. Replace-on-
	// conflict writes and mark-synced updates are keyed on these columns.
	PrimaryKey []string `json:"pk" validate:"required,min=1,dive,required"`

	// SyncFlagColumn is the boolean column consulted in incremental mode and
	// set by mark-synced. Defaults to DefaultSyncFlagColumn.
	SyncFlagColumn string `json:"sync_flag_column"`

	// Columns is an optional allow-list. Empty means all columns.
	Columns []string `json:"columns"`

	// Renames maps source column names to target column names. Keys must be
	// a subset of Columns when an allow-list is given.
	Renames map[string]string `json:"mappings"`

	// Filter is an optional boolean SQL expression ANDed into every fetch.
	Filter string `json:"filter"`

	// OrderBy is an optional ordering column for fetches.
	OrderBy string `json:"order_by"`

	// Enabled gates the mapping. Disabled mappings are skipped entirely.
	Enabled bool `json:"enabled"`

	// MarkSynced declares whether the source object is writable. False for
	// read-only sources (views); mark-synced is then a no-op, not an error.
	MarkSynced bool `json:"mark_synced"`
}

// WithDefaults returns a copy with defaulted fields filled in.
func (t Table) WithDefaults() Table {
	if t.SyncFlagColumn == "" {
		t.SyncFlagColumn = DefaultSyncFlagColumn
	}
	return t
}

// TargetColumn returns the target column name for a source column,
// applying the rename map.
func (t Table) TargetColumn(source string) string {
	if renamed, ok := t.Renames[source]; ok {
		return renamed
	}
	return source
}

// Validate checks the mapping's internal consistency. Violations are
// configuration errors: they abort the whole run before any table starts.
func (t Table) Validate() error {
	if err := validate.Struct(t); err != nil {
		return syncerr.ConfigWrap(err, "mapping %q", t.SourceTable)
	}

	if len(t.Columns) > 0 {
		allowed := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			allowed[c] = true
		}
		for src := range t.Renames {
			if !allowed[src] {
				return syncerr.Config("mapping %q: rename source column %q is not in the column allow-list",
					t.SourceTable, src)
			}
		}
		for _, pk := range t.PrimaryKey {
			if !allowed[pk] {
				return syncerr.Config("mapping %q: primary key column %q is not in the column allow-list",
					t.SourceTable, pk)
			}
		}
	}

	return nil
}

// ValidateSet validates every mapping and rejects sets where two enabled
// mappings declare the same target table (ambiguous destination).
func ValidateSet(tables []Table) error {
	seen := make(map[string]string, len(tables))

	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
		if !t.Enabled {
			continue
		}
		if prev, ok := seen[t.TargetTable]; ok {
			return syncerr.Config("mappings %q and %q both write target table %q",
				prev, t.SourceTable, t.TargetTable)
		}
		seen[t.TargetTable] = t.SourceTable
	}

	return nil
}

// String returns a compact description for logging.
func (t Table) String() string {
	return fmt.Sprintf("%s -> %s (pk=%v)", t.SourceTable, t.TargetTable, t.PrimaryKey)
}
