package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/ducktools/ducksync/internal/mapping"
)

// Environment variables carrying the table-mapping set.
//
// SYNC_TABLES_CONFIG holds a base64-encoded JSON array (deploy platforms
// often mangle raw JSON in env vars); SYNC_TABLES_JSON holds plain JSON for
// local development. The base64 form wins when both are set.
const (
	TablesConfigEnv = "SYNC_TABLES_CONFIG"
	TablesJSONEnv   = "SYNC_TABLES_JSON"
)

// LoadTables reads the table-mapping set from the environment, applies
// per-mapping defaults, and validates the whole set. The returned slice
// preserves declaration order.
func LoadTables() ([]mapping.Table, error) {
	raw, err := tablesJSON()
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("no table mappings configured: set %s or %s", TablesConfigEnv, TablesJSONEnv)
	}
	return ParseTables([]byte(raw))
}

// tableJSON mirrors mapping.Table for decoding. Enabled and MarkSynced
// default to true when absent, which a plain bool cannot express.
type tableJSON struct {
	Source         string            `json:"source"`
	Target         string            `json:"target"`
	PrimaryKey     []string          `json:"pk"`
	SyncFlagColumn string            `json:"sync_flag_column"`
	Columns        []string          `json:"columns"`
	Renames        map[string]string `json:"mappings"`
	Filter         string            `json:"filter"`
	OrderBy        string            `json:"order_by"`
	Enabled        *bool             `json:"enabled"`
	MarkSynced     *bool             `json:"mark_synced"`
}

// ParseTables decodes and validates a JSON table-mapping array.
func ParseTables(data []byte) ([]mapping.Table, error) {
	var raw []tableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse table config JSON: %w", err)
	}

	tables := make([]mapping.Table, len(raw))
	for i, r := range raw {
		target := r.Target
		if target == "" {
			target = r.Source
		}
		tables[i] = mapping.Table{
			SourceTable:    r.Source,
			TargetTable:    target,
			PrimaryKey:     r.PrimaryKey,
			SyncFlagColumn: r.SyncFlagColumn,
			Columns:        r.Columns,
			Renames:        r.Renames,
			Filter:         r.Filter,
			OrderBy:        r.OrderBy,
			Enabled:        r.Enabled == nil || *r.Enabled,
			MarkSynced:     r.MarkSynced == nil || *r.MarkSynced,
		}.WithDefaults()
	}

	if err := mapping.ValidateSet(tables); err != nil {
		return nil, err
	}

	return tables, nil
}

func tablesJSON() (string, error) {
	if encoded := os.Getenv(TablesConfigEnv); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("decode %s base64: %w", TablesConfigEnv, err)
		}
		if !utf8.Valid(decoded) {
			return "", fmt.Errorf("%s is not valid UTF-8", TablesConfigEnv)
		}
		return string(decoded), nil
	}
	return os.Getenv(TablesJSONEnv), nil
}
