// Package engine orchestrates a sync run: for each enabled mapping, in
// declaration order, fetch a batch from the source, write it durably to the
// target, then mark the source rows synced, in lockstep, so a crash never
// leaves a marked-but-unwritten row.
//
// Tables are isolated: one table's failure records a failed result and the
// run moves on to the next mapping. Only cancellation stops the run early.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ducktools/ducksync/internal/logging"
	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/metrics"
	"github.com/ducktools/ducksync/internal/retry"
	"github.com/ducktools/ducksync/internal/syncerr"
	"github.com/ducktools/ducksync/internal/value"
)

// RowIter is a lazy, finite sequence of rows for one table. It is not
// restartable: a read error mid-sequence fails the table.
type RowIter interface {
	Next(ctx context.Context, n int) ([]value.Row, error)
	Keys(rows []value.Row) [][]value.Value
	Close()
}

// Source reads rows from the system of record and flips their sync flags.
type Source interface {
	Fetch(ctx context.Context, m mapping.Table, full bool, limit int) (RowIter, error)
	MarkSynced(ctx context.Context, m mapping.Table, keys [][]value.Value) (int64, error)
}

// ChunkWriter writes batches into one destination table. WriteChunk must be
// idempotent for the same rows: the engine re-issues a chunk after a
// retryable failure.
type ChunkWriter interface {
	WriteChunk(ctx context.Context, rows []value.Row) (int64, error)
	Close() error
}

// Target prepares destination tables and hands out per-table writers.
type Target interface {
	EnsureSchema(ctx context.Context, m mapping.Table, s value.Schema) error
	Writer(ctx context.Context, m mapping.Table) (ChunkWriter, error)
}

// SyncRecorder is optionally implemented by targets that keep per-table
// bookkeeping. Recording is best-effort and never fails a table.
type SyncRecorder interface {
	RecordSync(ctx context.Context, m mapping.Table, mode string, rows int64) error
}

// unsyncedCounter is optionally implemented by sources that can count
// pending rows cheaply; the count only feeds progress totals.
type unsyncedCounter interface {
	UnsyncedCount(ctx context.Context, m mapping.Table) (int64, error)
}

// Options tune a run. Zero values fall back to sensible defaults in New.
type Options struct {
	// BatchSize is the lockstep unit: rows fetched, written, and marked
	// together. Defaults to 1000.
	BatchSize int

	// MaxRecords caps rows fetched per table. Zero means unlimited.
	MaxRecords int

	// AutoCreateTables creates missing destination tables from the first
	// batch's inferred schema.
	AutoCreateTables bool

	// MarkSynced globally gates flag updates. Per-mapping MarkSynced still
	// applies on top.
	MarkSynced bool

	// Policy governs retries of remote operations.
	Policy retry.Policy

	// Observer, if set, receives progress updates.
	Observer Observer

	// Metrics, if set, accumulates run counters.
	Metrics *metrics.Metrics

	// Clock injects time for tests. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Engine runs syncs over a fixed, validated mapping set.
type Engine struct {
	src    Source
	tgt    Target
	tables []mapping.Table
	opts   Options
	clock  clockwork.Clock
	log    *slog.Logger
}

// New validates the mapping set and builds an engine. An invalid set is a
// configuration error: nothing runs.
func New(src Source, tgt Target, tables []mapping.Table, opts Options) (*Engine, error) {
	if err := mapping.ValidateSet(tables); err != nil {
		return nil, err
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		src:    src,
		tgt:    tgt,
		tables: tables,
		opts:   opts,
		clock:  opts.Clock,
		log:    opts.Logger,
	}, nil
}

// Sync runs every enabled mapping once and returns the per-table outcomes.
// It does not return an error: failures live in the result, and callers
// decide severity from it. Cancellation fails the remaining tables without
// abandoning an in-flight chunk.
func (e *Engine) Sync(ctx context.Context, mode Mode) Result {
	start := e.clock.Now()
	res := Result{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: start,
	}

	log := e.log.With("run_id", res.RunID)
	log.Info("sync run starting", "mode", mode, "tables", len(e.tables))

	cancelled := false
	for _, m := range e.tables {
		if !m.Enabled {
			log.Debug("skipping disabled mapping", "table", m.SourceTable)
			continue
		}

		if cancelled || ctx.Err() != nil {
			cancelled = true
			res.Tables = append(res.Tables, TableResult{
				SourceTable: m.SourceTable,
				TargetTable: m.TargetTable,
				State:       PhaseFailed,
				Err:         syncerr.ErrCancelled,
			})
			continue
		}

		res.Tables = append(res.Tables, e.syncTable(ctx, log, mode, m))
	}

	res.CompletedAt = e.clock.Now()
	res.Elapsed = res.CompletedAt.Sub(start)

	if e.opts.Metrics != nil {
		var failedRows int64
		for _, tr := range res.Tables {
			if tr.State == PhaseFailed {
				failedRows += tr.RowsFetched - tr.RowsWritten
			}
		}
		e.opts.Metrics.RecordSync(res.AllSucceeded(),
			uint64(res.TotalWritten()), uint64(failedRows),
			uint64(res.Elapsed.Milliseconds()))
	}

	log.Info("sync run finished",
		"ok", res.AllSucceeded(),
		"rows_written", res.TotalWritten(),
		"failed_tables", len(res.Failed()),
		"elapsed", res.Elapsed)

	return res
}

func (e *Engine) syncTable(ctx context.Context, runLog *slog.Logger, mode Mode, m mapping.Table) (tr TableResult) {
	tr = TableResult{SourceTable: m.SourceTable, TargetTable: m.TargetTable, State: PhasePending}
	log := logging.WithTable(runLog, m.SourceTable)

	start := e.clock.Now()
	defer func() {
		tr.Elapsed = e.clock.Now().Sub(start)
		if tr.State == PhaseFailed {
			log.Error("table failed", "error", tr.Err, "rows_written", tr.RowsWritten)
		} else {
			log.Info("table done",
				"rows_fetched", tr.RowsFetched,
				"rows_written", tr.RowsWritten,
				"rows_marked", tr.RowsMarked,
				"elapsed", tr.Elapsed)
		}
	}()

	var total int64
	if mode == ModeIncremental {
		if counter, ok := e.src.(unsyncedCounter); ok {
			if n, err := counter.UnsyncedCount(ctx, m); err == nil {
				total = n
			}
		}
	}

	tr.State = PhaseFetching
	e.observe(Progress{Table: m.SourceTable, Phase: PhaseFetching, TotalRows: total})

	it, err := retry.DoValue(ctx, e.clock, e.opts.Policy, e.onRetry(log), func() (RowIter, error) {
		e.recordSourceQuery()
		return e.src.Fetch(ctx, m, mode == ModeFull, e.opts.MaxRecords)
	})
	if err != nil {
		return e.fail(tr, err)
	}
	defer it.Close()

	var writer ChunkWriter
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	mark := mode == ModeIncremental && m.MarkSynced && e.opts.MarkSynced

	for {
		rows, err := it.Next(ctx, e.opts.BatchSize)
		if err != nil {
			// The cursor is not restartable, so a read error is final for
			// this table even when it looks transient.
			return e.fail(tr, err)
		}
		if rows == nil {
			break
		}
		tr.RowsFetched += int64(len(rows))

		if writer == nil {
			if writer, err = e.prepareTarget(ctx, log, m, rows); err != nil {
				return e.fail(tr, err)
			}
		}

		tr.State = PhaseWriting
		var written int64
		err = retry.Do(ctx, e.clock, e.opts.Policy, e.onRetry(log), func() error {
			e.recordTargetQuery()
			written, err = writer.WriteChunk(ctx, rows)
			return err
		})
		tr.RowsWritten += written
		if err != nil {
			if tr.RowsWritten > 0 {
				err = syncerr.PartialWrite(m.TargetTable, tr.RowsWritten, err)
			}
			return e.fail(tr, err)
		}

		if mark {
			tr.State = PhaseMarking
			keys := it.Keys(rows)
			marked, err := retry.DoValue(ctx, e.clock, e.opts.Policy, e.onRetry(log), func() (int64, error) {
				e.recordSourceQuery()
				return e.src.MarkSynced(ctx, m, keys)
			})
			tr.RowsMarked += marked
			if err != nil {
				return e.fail(tr, err)
			}
		}

		e.observe(Progress{Table: m.SourceTable, Phase: tr.State, RowsProcessed: tr.RowsWritten, TotalRows: total})
	}

	if rec, ok := e.tgt.(SyncRecorder); ok {
		if err := rec.RecordSync(ctx, m, string(mode), tr.RowsWritten); err != nil {
			log.Warn("recording sync metadata failed", "error", err)
		}
	}

	tr.State = PhaseDone
	e.observe(Progress{Table: m.SourceTable, Phase: PhaseDone, RowsProcessed: tr.RowsWritten})
	return tr
}

// prepareTarget runs once per table, on the first non-empty batch: infer the
// schema, create the destination table when configured to, and check out the
// table's writer.
func (e *Engine) prepareTarget(ctx context.Context, log *slog.Logger, m mapping.Table, rows []value.Row) (ChunkWriter, error) {
	if e.opts.AutoCreateTables {
		schema := value.InferSchema(rows)
		err := retry.Do(ctx, e.clock, e.opts.Policy, e.onRetry(log), func() error {
			e.recordTargetQuery()
			return e.tgt.EnsureSchema(ctx, m, schema)
		})
		if err != nil {
			return nil, err
		}
	}

	return retry.DoValue(ctx, e.clock, e.opts.Policy, e.onRetry(log), func() (ChunkWriter, error) {
		return e.tgt.Writer(ctx, m)
	})
}

func (e *Engine) fail(tr TableResult, err error) TableResult {
	if errors.Is(err, context.Canceled) {
		err = syncerr.ErrCancelled
	}
	tr.State = PhaseFailed
	tr.Err = err
	e.observe(Progress{Table: tr.SourceTable, Phase: PhaseFailed, RowsProcessed: tr.RowsWritten})
	return tr
}

func (e *Engine) onRetry(log *slog.Logger) func(err error, next time.Duration) {
	return func(err error, next time.Duration) {
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordRetry()
		}
		log.Warn("retrying after transient failure", "error", err, "backoff", next)
	}
}

func (e *Engine) observe(p Progress) {
	if e.opts.Observer == nil {
		return
	}
	defer func() { _ = recover() }()
	e.opts.Observer(p)
}

func (e *Engine) recordSourceQuery() {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordSourceQuery()
	}
}

func (e *Engine) recordTargetQuery() {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordTargetQuery()
	}
}
