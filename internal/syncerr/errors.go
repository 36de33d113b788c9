// Package syncerr defines the error taxonomy shared by the sync engine and
// its database clients.
//
// Errors fall into a small set of classes with different blast radii:
//
//   - ConfigError: invalid mapping or configuration; fatal, blocks the run
//     before any table starts.
//   - ConnectionError: network/timeout failure talking to a store; retryable.
//   - QueryError: malformed statement or bad column/filter; table-scoped,
//     not retryable.
//   - SchemaError: target DDL failure; table-scoped, not retryable.
//   - PartialWriteError: a chunk failed after earlier chunks of the same
//     table committed; carries the confirmed row count.
//
// All rendered error text passes through Redact so connection strings and
// tokens never reach logs or results.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrCancelled is reported for tables that never started because the run
// was cancelled.
var ErrCancelled = errors.New("sync cancelled")

// ConfigError indicates invalid configuration or an invalid table mapping.
// It is the only error class that aborts a run before any table starts.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s", e.Message, Redact(e.Err.Error()))
	}
	return "configuration error: " + e.Message
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config creates a ConfigError.
func Config(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ConfigWrap creates a ConfigError wrapping an underlying cause.
func ConfigWrap(err error, format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ConnectionError indicates a network-level failure (connect, timeout)
// against the named store ("postgres" or "duckdb"). Retryable.
type ConnectionError struct {
	Store string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection error: %s", e.Store, Redact(e.Err.Error()))
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection creates a ConnectionError for the given store.
func Connection(store string, err error) *ConnectionError {
	return &ConnectionError{Store: store, Err: err}
}

// QueryError indicates a statement the store rejected (bad filter, unknown
// column, type mismatch). Scoped to one table and not retryable. The table
// name is carried for attribution; credentials never are.
type QueryError struct {
	Store string
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query error on table %q: %s", e.Store, e.Table, Redact(e.Err.Error()))
}

func (e *QueryError) Unwrap() error { return e.Err }

// Query creates a QueryError for the given store and table.
func Query(store, table string, err error) *QueryError {
	return &QueryError{Store: store, Table: table, Err: err}
}

// SchemaError indicates target DDL failed for a table. Not retryable.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on table %q: %s", e.Table, Redact(e.Err.Error()))
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Schema creates a SchemaError for the given table.
func Schema(table string, err error) *SchemaError {
	return &SchemaError{Table: table, Err: err}
}

// PartialWriteError reports a chunk failure that happened after earlier
// chunks of the same table had already committed. RowsWritten is the number
// of rows confirmed written before the failure.
type PartialWriteError struct {
	Table       string
	RowsWritten int64
	Err         error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write on table %q: %d rows committed before failure: %s",
		e.Table, e.RowsWritten, Redact(e.Err.Error()))
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// PartialWrite creates a PartialWriteError.
func PartialWrite(table string, rowsWritten int64, err error) *PartialWriteError {
	return &PartialWriteError{Table: table, RowsWritten: rowsWritten, Err: err}
}

// IsRetryable reports whether the error is worth retrying with backoff.
// Connection failures and timeouts are; configuration, query, and schema
// errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	// A deadline that expired below the clients' classification still means
	// a timed-out remote call.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	return false
}

// Code returns a stable identifier for the error class, used in logs and
// metrics labels.
func Code(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrCancelled):
		return "CANCELLED"
	case isClass[*ConfigError](err):
		return "CONFIG_ERROR"
	case isClass[*PartialWriteError](err):
		return "PARTIAL_WRITE"
	case isClass[*SchemaError](err):
		return "SCHEMA_ERROR"
	case isClass[*QueryError](err):
		return "QUERY_ERROR"
	case isClass[*ConnectionError](err):
		return "CONNECTION_ERROR"
	default:
		return "UNKNOWN"
	}
}

func isClass[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

var (
	// user:password@ in URLs.
	urlCredentials = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
	// token-style query parameters and key=value pairs.
	tokenParam = regexp.MustCompile(`((?i)(?:motherduck_)?token|password|passwd|pwd)=[^&\s'"]+`)
)

// Redact masks credentials embedded in error text: passwords inside
// connection URLs and token/password key-value pairs.
func Redact(s string) string {
	s = urlCredentials.ReplaceAllString(s, "://$1:***@")
	s = tokenParam.ReplaceAllString(s, "$1=***")
	return s
}
