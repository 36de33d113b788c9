package engine

import (
	"time"
)

// Mode selects which source rows a run considers.
type Mode string

const (
	// ModeIncremental fetches only rows whose sync flag is false and marks
	// them after a durable write.
	ModeIncremental Mode = "incremental"

	// ModeFull fetches every row matching the mapping's filter and never
	// touches the sync flag.
	ModeFull Mode = "full"
)

// Phase is a table's position in the fetch→write→mark lifecycle.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseFetching Phase = "fetching"
	PhaseWriting  Phase = "writing"
	PhaseMarking  Phase = "marking"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Progress is one observation of a table mid-run. TotalRows is zero when the
// total is unknown (full mode, or a source that cannot count cheaply).
type Progress struct {
	Table         string `json:"table"`
	Phase         Phase  `json:"phase"`
	RowsProcessed int64  `json:"rows_processed"`
	TotalRows     int64  `json:"total_rows,omitempty"`
}

// Observer receives progress updates during a run. Observers are advisory:
// a panicking observer is swallowed and never fails the run.
type Observer func(Progress)

// TableResult is the outcome for one mapping.
type TableResult struct {
	SourceTable string        `json:"source_table"`
	TargetTable string        `json:"target_table"`
	State       Phase         `json:"state"`
	RowsFetched int64         `json:"rows_fetched"`
	RowsWritten int64         `json:"rows_written"`
	RowsMarked  int64         `json:"rows_marked"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Err         error         `json:"-"`
}

// ErrorMessage returns the failure text, empty for successful tables.
func (tr TableResult) ErrorMessage() string {
	if tr.Err == nil {
		return ""
	}
	return tr.Err.Error()
}

// Result is the outcome of one run across all enabled mappings, in
// declaration order.
type Result struct {
	RunID       string        `json:"run_id"`
	Mode        Mode          `json:"mode"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Tables      []TableResult `json:"tables"`
}

// AllSucceeded reports whether every table finished clean.
func (r Result) AllSucceeded() bool {
	for _, tr := range r.Tables {
		if tr.State == PhaseFailed {
			return false
		}
	}
	return true
}

// Failed returns the subset of tables that failed, preserving order.
func (r Result) Failed() []TableResult {
	var failed []TableResult
	for _, tr := range r.Tables {
		if tr.State == PhaseFailed {
			failed = append(failed, tr)
		}
	}
	return failed
}

// TotalWritten sums rows durably written across all tables.
func (r Result) TotalWritten() int64 {
	var n int64
	for _, tr := range r.Tables {
		n += tr.RowsWritten
	}
	return n
}

// TotalFetched sums rows read from the source across all tables.
func (r Result) TotalFetched() int64 {
	var n int64
	for _, tr := range r.Tables {
		n += tr.RowsFetched
	}
	return n
}
