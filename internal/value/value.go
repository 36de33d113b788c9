// Package value models the loosely-typed rows that flow from the source to
// the target.
//
// Every fetched cell arrives as raw text (the source is queried over the
// simple protocol, which returns text encoding for all types). Infer coerces
// that text to a tagged scalar exactly once; downstream code works with the
// typed Value and never re-parses. The inferred Schema is fixed from the
// first batch of a table and reused for the rest of its batches.
package value

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindTimestamp
	KindDate
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindTimestamp:
		return "timestamp"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// DuckDBType returns the DuckDB column type used when creating a table for
// values of this kind. Null (a column that was all-NULL in the first batch)
// falls back to VARCHAR.
func (k Kind) DuckDBType() string {
	switch k {
	case KindBool:
		return "BOOLEAN"
	case KindInt:
		return "BIGINT"
	case KindFloat:
		return "DOUBLE"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindDate:
		return "DATE"
	default:
		return "VARCHAR"
	}
}

// Value is a tagged scalar: null, bool, int, float, text, timestamp, or date.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Text returns a text Value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Timestamp returns a timestamp Value.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Date returns a date Value.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

// Kind returns the kind tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Arg returns the value as a driver argument: nil, bool, int64, float64,
// string, or time.Time.
func (v Value) Arg() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindTimestamp, KindDate:
		return v.t
	default:
		return nil
	}
}

// Text returns the canonical text form of the value. For values produced by
// Infer this round-trips the original input for bool, int, text, and date;
// it is what mark-synced statements compare against the source's ::text cast.
func (v Value) Text() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindTimestamp:
		return v.t.Format("2006-01-02 15:04:05.999999")
	case KindDate:
		return v.t.Format("2006-01-02")
	default:
		return ""
	}
}

// String implements fmt.Stringer for logging.
func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return fmt.Sprintf("%s(%s)", v.kind, v.Text())
}

// Timestamp layouts accepted by Infer, tried in order. These cover the text
// renderings PostgreSQL produces for timestamp and timestamptz columns plus
// RFC 3339.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	time.RFC3339,
}

const dateLayout = "2006-01-02"

// Infer coerces raw text to a typed Value. It is pure and deterministic:
// the same input always yields the same kind. Classification order is
// boolean, integer, float, timestamp, date, else text.
func Infer(raw string) Value {
	switch raw {
	case "t", "true", "TRUE", "True":
		return Bool(true)
	case "f", "false", "FALSE", "False":
		return Bool(false)
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Int(i)
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil && looksNumeric(raw) {
		return Float(f)
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Timestamp(t)
		}
	}

	if t, err := time.Parse(dateLayout, raw); err == nil {
		return Date(t)
	}

	return Text(raw)
}

// looksNumeric guards ParseFloat's permissiveness: "NaN", "inf", and hex
// floats are data, not numbers, for sync purposes.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == 'e' || r == 'E':
		case (r == '+' || r == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		default:
			return false
		}
	}
	return true
}

// Row is an ordered mapping of column name to Value. Column order follows
// the source result set and is identical for every row of one table.
type Row struct {
	Columns []string
	Values  []Value
}

// Get returns the value for a column name.
func (r Row) Get(col string) (Value, bool) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], true
		}
	}
	return Value{}, false
}

// Column describes one column of an inferred schema.
type Column struct {
	Name string
	Kind Kind
}

// Schema is the set of typed columns inferred from a table's first batch.
type Schema struct {
	Columns []Column
}

// InferSchema derives a Schema from the first observed batch. Each column
// takes the kind of its first non-null value; int widens to float if both
// appear; any other disagreement collapses to text. A column that is null
// in every row of the batch stays KindNull (rendered as VARCHAR in DDL).
func InferSchema(rows []Row) Schema {
	if len(rows) == 0 {
		return Schema{}
	}

	cols := rows[0].Columns
	kinds := make([]Kind, len(cols))

	for _, row := range rows {
		for i, v := range row.Values {
			if i >= len(kinds) || v.IsNull() {
				continue
			}
			kinds[i] = mergeKinds(kinds[i], v.Kind())
		}
	}

	s := Schema{Columns: make([]Column, len(cols))}
	for i, name := range cols {
		s.Columns[i] = Column{Name: name, Kind: kinds[i]}
	}
	return s
}

func mergeKinds(a, b Kind) Kind {
	switch {
	case a == KindNull:
		return b
	case a == b:
		return a
	case (a == KindInt && b == KindFloat) || (a == KindFloat && b == KindInt):
		return KindFloat
	default:
		return KindText
	}
}
