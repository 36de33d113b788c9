package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/metrics"
	"github.com/ducktools/ducksync/internal/retry"
	"github.com/ducktools/ducksync/internal/syncerr"
	"github.com/ducktools/ducksync/internal/value"
)

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

func intRows(cols []string, ids ...int64) []value.Row {
	rows := make([]value.Row, len(ids))
	for i, id := range ids {
		rows[i] = value.Row{
			Columns: cols,
			Values:  []value.Value{value.Int(id), value.Text("payload")},
		}
	}
	return rows
}

type fakeIter struct {
	rows    []value.Row
	pos     int
	failAt  int // fail when pos reaches this count, 0 = never
	nextErr error
	closed  bool
}

func (it *fakeIter) Next(ctx context.Context, n int) ([]value.Row, error) {
	if it.failAt > 0 && it.pos >= it.failAt {
		return nil, it.nextErr
	}
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	end := min(it.pos+n, len(it.rows))
	batch := it.rows[it.pos:end]
	it.pos = end
	return batch, nil
}

func (it *fakeIter) Keys(rows []value.Row) [][]value.Value {
	keys := make([][]value.Value, len(rows))
	for i, r := range rows {
		keys[i] = []value.Value{r.Values[0]}
	}
	return keys
}

func (it *fakeIter) Close() { it.closed = true }

type fakeSource struct {
	mu    sync.Mutex
	rows  map[string][]value.Row
	iters map[string]*fakeIter

	fetchErr  map[string]error
	markErr   map[string]error
	markFails map[string]int // fail this many mark calls before succeeding

	fullFetches []string
	markBatches map[string][]int // sizes of each mark call per table
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rows:        map[string][]value.Row{},
		iters:       map[string]*fakeIter{},
		fetchErr:    map[string]error{},
		markErr:     map[string]error{},
		markFails:   map[string]int{},
		markBatches: map[string][]int{},
	}
}

func (s *fakeSource) Fetch(ctx context.Context, m mapping.Table, full bool, limit int) (RowIter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fetchErr[m.SourceTable]; err != nil {
		return nil, err
	}
	if full {
		s.fullFetches = append(s.fullFetches, m.SourceTable)
	}
	rows := s.rows[m.SourceTable]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	it := &fakeIter{rows: rows}
	s.iters[m.SourceTable] = it
	return it, nil
}

func (s *fakeSource) MarkSynced(ctx context.Context, m mapping.Table, keys [][]value.Value) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markFails[m.SourceTable] > 0 {
		s.markFails[m.SourceTable]--
		return 0, syncerr.Connection("postgres", errors.New("reset during mark"))
	}
	if err := s.markErr[m.SourceTable]; err != nil {
		return 0, err
	}
	s.markBatches[m.SourceTable] = append(s.markBatches[m.SourceTable], len(keys))
	return int64(len(keys)), nil
}

type fakeWriter struct {
	tgt   *fakeTarget
	table string

	failAtChunk int // 1-based chunk index to fail at, 0 = never
	failErr     error
	failOnce    bool

	chunks []int
	closed bool
}

func (w *fakeWriter) WriteChunk(ctx context.Context, rows []value.Row) (int64, error) {
	w.tgt.mu.Lock()
	defer w.tgt.mu.Unlock()

	if w.failAtChunk > 0 && len(w.chunks)+1 >= w.failAtChunk {
		if w.failOnce {
			w.failAtChunk = 0
		}
		// rows written before the failing chunk within this call
		return 0, w.failErr
	}

	w.chunks = append(w.chunks, len(rows))
	w.tgt.written[w.table] += int64(len(rows))
	return int64(len(rows)), nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeTarget struct {
	mu      sync.Mutex
	schemas map[string]value.Schema
	writers map[string]*fakeWriter
	written map[string]int64

	ensureErr map[string]error
	writerCfg map[string]*fakeWriter // pre-configured failure behavior

	recorded map[string]int64
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		schemas:   map[string]value.Schema{},
		writers:   map[string]*fakeWriter{},
		written:   map[string]int64{},
		ensureErr: map[string]error{},
		writerCfg: map[string]*fakeWriter{},
		recorded:  map[string]int64{},
	}
}

func (t *fakeTarget) EnsureSchema(ctx context.Context, m mapping.Table, s value.Schema) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureErr[m.TargetTable]; err != nil {
		return err
	}
	t.schemas[m.TargetTable] = s
	return nil
}

func (t *fakeTarget) Writer(ctx context.Context, m mapping.Table) (ChunkWriter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.writerCfg[m.TargetTable]
	if w == nil {
		w = &fakeWriter{}
	}
	w.tgt = t
	w.table = m.TargetTable
	t.writers[m.TargetTable] = w
	return w, nil
}

func (t *fakeTarget) RecordSync(ctx context.Context, m mapping.Table, mode string, rows int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recorded[m.TargetTable] = rows
	return nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func testMapping(name string) mapping.Table {
	return mapping.Table{
		SourceTable:    name,
		TargetTable:    name,
		PrimaryKey:     []string{"id"},
		SyncFlagColumn: "synced_to_duckdb",
		Enabled:        true,
		MarkSynced:     true,
	}
}

func fastOptions() Options {
	return Options{
		BatchSize:        2,
		AutoCreateTables: true,
		MarkSynced:       true,
		Policy: retry.Policy{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
	}
}

func newTestEngine(t *testing.T, src Source, tgt Target, tables []mapping.Table, opts Options) *Engine {
	t.Helper()
	eng, err := New(src, tgt, tables, opts)
	require.NoError(t, err)
	return eng
}

// ----------------------------------------------------------------------------
// Lockstep Pipeline Tests
// ----------------------------------------------------------------------------

func TestSync_BatchLockstep(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2, 3, 4, 5)
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	require.Len(t, res.Tables, 1)
	tr := res.Tables[0]
	assert.Equal(t, PhaseDone, tr.State)
	assert.EqualValues(t, 5, tr.RowsFetched)
	assert.EqualValues(t, 5, tr.RowsWritten)
	assert.EqualValues(t, 5, tr.RowsMarked)
	assert.True(t, res.AllSucceeded())

	// 5 rows at batch size 2: chunks of 2, 2, 1, marked in lockstep.
	assert.Equal(t, []int{2, 2, 1}, tgt.writers["orders"].chunks)
	assert.Equal(t, []int{2, 2, 1}, src.markBatches["orders"])

	// Schema inferred once, from the first batch.
	schema := tgt.schemas["orders"]
	require.Len(t, schema.Columns, 2)
	assert.Equal(t, value.KindInt, schema.Columns[0].Kind)

	// Iterator and writer released.
	assert.True(t, src.iters["orders"].closed)
	assert.True(t, tgt.writers["orders"].closed)

	// Bookkeeping recorded.
	assert.EqualValues(t, 5, tgt.recorded["orders"])
}

func TestSync_EmptyTable(t *testing.T) {
	src := newFakeSource()
	src.rows["orders"] = nil
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	assert.Equal(t, PhaseDone, tr.State)
	assert.EqualValues(t, 0, tr.RowsFetched)
	// No rows means no schema work and no writer.
	assert.Empty(t, tgt.schemas)
	assert.Empty(t, tgt.writers)
}

func TestSync_FullModeSkipsMarking(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2, 3)
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeFull)

	tr := res.Tables[0]
	assert.Equal(t, PhaseDone, tr.State)
	assert.EqualValues(t, 3, tr.RowsWritten)
	assert.EqualValues(t, 0, tr.RowsMarked)
	assert.Empty(t, src.markBatches["orders"])
	assert.Equal(t, []string{"orders"}, src.fullFetches)
}

func TestSync_ReadOnlyMappingSkipsMarking(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders_view"] = intRows(cols, 1, 2)
	tgt := newFakeTarget()

	m := testMapping("orders_view")
	m.MarkSynced = false

	eng := newTestEngine(t, src, tgt, []mapping.Table{m}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	assert.Equal(t, PhaseDone, tr.State)
	assert.EqualValues(t, 2, tr.RowsWritten)
	assert.EqualValues(t, 0, tr.RowsMarked)
	assert.Empty(t, src.markBatches["orders_view"])
}

func TestSync_GlobalMarkGate(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1)
	tgt := newFakeTarget()

	opts := fastOptions()
	opts.MarkSynced = false

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, opts)
	res := eng.Sync(context.Background(), ModeIncremental)

	assert.Equal(t, PhaseDone, res.Tables[0].State)
	assert.Empty(t, src.markBatches["orders"])
}

func TestSync_MaxRecordsCapsFetch(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2, 3, 4, 5)
	tgt := newFakeTarget()

	opts := fastOptions()
	opts.MaxRecords = 3

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, opts)
	res := eng.Sync(context.Background(), ModeIncremental)

	assert.EqualValues(t, 3, res.Tables[0].RowsFetched)
	assert.EqualValues(t, 3, res.Tables[0].RowsWritten)
}

func TestSync_DisabledMappingSkipped(t *testing.T) {
	src := newFakeSource()
	tgt := newFakeTarget()

	enabled := testMapping("a")
	src.rows["a"] = intRows([]string{"id", "data"}, 1)
	disabled := testMapping("b")
	disabled.Enabled = false

	eng := newTestEngine(t, src, tgt, []mapping.Table{enabled, disabled}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	require.Len(t, res.Tables, 1)
	assert.Equal(t, "a", res.Tables[0].SourceTable)
}

// ----------------------------------------------------------------------------
// Failure Isolation Tests
// ----------------------------------------------------------------------------

func TestSync_FailureIsolation(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["a"] = intRows(cols, 1, 2)
	src.rows["b"] = intRows(cols, 3, 4)
	src.rows["c"] = intRows(cols, 5, 6)
	tgt := newFakeTarget()
	tgt.writerCfg["b"] = &fakeWriter{
		failAtChunk: 1,
		failErr:     syncerr.Query("duckdb", "b", errors.New("constraint violation")),
	}

	tables := []mapping.Table{testMapping("a"), testMapping("b"), testMapping("c")}
	eng := newTestEngine(t, src, tgt, tables, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	require.Len(t, res.Tables, 3)
	assert.Equal(t, PhaseDone, res.Tables[0].State)
	assert.Equal(t, PhaseFailed, res.Tables[1].State)
	assert.Equal(t, PhaseDone, res.Tables[2].State)

	assert.False(t, res.AllSucceeded())
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, "b", res.Failed()[0].SourceTable)

	// b's rows were never marked: a failed write must not flip source flags.
	assert.Empty(t, src.markBatches["b"])
	// a and c finished untouched by b's failure.
	assert.EqualValues(t, 2, res.Tables[0].RowsWritten)
	assert.EqualValues(t, 2, res.Tables[2].RowsWritten)
}

func TestSync_FetchErrorFailsTable(t *testing.T) {
	src := newFakeSource()
	src.fetchErr["orders"] = syncerr.Query("postgres", "orders", errors.New("bad filter"))
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	assert.Equal(t, PhaseFailed, tr.State)
	assert.Equal(t, "QUERY_ERROR", syncerr.Code(tr.Err))
}

func TestSync_PartialWriteCarriesCommittedCount(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2, 3, 4, 5)
	tgt := newFakeTarget()
	tgt.writerCfg["orders"] = &fakeWriter{
		failAtChunk: 2,
		failErr:     syncerr.Query("duckdb", "orders", errors.New("disk full")),
	}

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	require.Equal(t, PhaseFailed, tr.State)

	var pw *syncerr.PartialWriteError
	require.ErrorAs(t, tr.Err, &pw)
	assert.EqualValues(t, 2, pw.RowsWritten)
	assert.EqualValues(t, 2, tr.RowsWritten)

	// First chunk's rows were marked before the second chunk failed.
	assert.Equal(t, []int{2}, src.markBatches["orders"])
}

func TestSync_MarkFailureFailsTable(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2)
	src.markErr["orders"] = syncerr.Query("postgres", "orders", errors.New("permission denied"))
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	assert.Equal(t, PhaseFailed, tr.State)
	// The write landed; only the flag update failed. Re-running re-delivers
	// those rows, which replace-on-conflict absorbs.
	assert.EqualValues(t, 2, tr.RowsWritten)
	assert.EqualValues(t, 0, tr.RowsMarked)
}

// ----------------------------------------------------------------------------
// Retry Tests
// ----------------------------------------------------------------------------

func TestSync_RetriesTransientWriteFailure(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2)
	tgt := newFakeTarget()
	tgt.writerCfg["orders"] = &fakeWriter{
		failAtChunk: 1,
		failOnce:    true,
		failErr:     syncerr.Connection("duckdb", errors.New("connection reset")),
	}

	m := metrics.New()
	opts := fastOptions()
	opts.Metrics = m

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, opts)
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	assert.Equal(t, PhaseDone, tr.State)
	assert.EqualValues(t, 2, tr.RowsWritten)
	assert.EqualValues(t, 1, m.Snapshot().Retries)
}

func TestSync_RetriesTransientMarkFailure(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2)
	src.markFails["orders"] = 1
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, fastOptions())
	res := eng.Sync(context.Background(), ModeIncremental)

	tr := res.Tables[0]
	assert.Equal(t, PhaseDone, tr.State)
	assert.EqualValues(t, 2, tr.RowsMarked)
}

// ----------------------------------------------------------------------------
// Cancellation Tests
// ----------------------------------------------------------------------------

func TestSync_CancellationFailsRemainingTables(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["a"] = intRows(cols, 1)
	src.rows["b"] = intRows(cols, 2)
	tgt := newFakeTarget()

	ctx, cancel := context.WithCancel(context.Background())

	opts := fastOptions()
	opts.Observer = func(p Progress) {
		// Cancel while the first table is mid-flight.
		if p.Table == "a" && p.Phase == PhaseDone {
			cancel()
		}
	}

	tables := []mapping.Table{testMapping("a"), testMapping("b")}
	eng := newTestEngine(t, src, tgt, tables, opts)
	res := eng.Sync(ctx, ModeIncremental)

	require.Len(t, res.Tables, 2)
	assert.Equal(t, PhaseDone, res.Tables[0].State)
	assert.Equal(t, PhaseFailed, res.Tables[1].State)
	assert.ErrorIs(t, res.Tables[1].Err, syncerr.ErrCancelled)
}

// ----------------------------------------------------------------------------
// Observer and Metrics Tests
// ----------------------------------------------------------------------------

func TestSync_ObserverPanicSwallowed(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2)
	tgt := newFakeTarget()

	opts := fastOptions()
	opts.Observer = func(p Progress) { panic("observer bug") }

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, opts)
	res := eng.Sync(context.Background(), ModeIncremental)

	assert.Equal(t, PhaseDone, res.Tables[0].State)
}

func TestSync_ObserverSeesPhases(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2, 3)
	tgt := newFakeTarget()

	var mu sync.Mutex
	var phases []Phase
	opts := fastOptions()
	opts.Observer = func(p Progress) {
		mu.Lock()
		phases = append(phases, p.Phase)
		mu.Unlock()
	}

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, opts)
	eng.Sync(context.Background(), ModeIncremental)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseFetching, phases[0])
	assert.Equal(t, PhaseDone, phases[len(phases)-1])
}

func TestSync_MetricsRecorded(t *testing.T) {
	cols := []string{"id", "data"}
	src := newFakeSource()
	src.rows["orders"] = intRows(cols, 1, 2, 3)
	tgt := newFakeTarget()

	m := metrics.New()
	opts := fastOptions()
	opts.Metrics = m

	eng := newTestEngine(t, src, tgt, []mapping.Table{testMapping("orders")}, opts)
	eng.Sync(context.Background(), ModeIncremental)

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.SyncsTotal)
	assert.EqualValues(t, 1, snap.SyncsSuccess)
	assert.EqualValues(t, 3, snap.RecordsSynced)
	assert.NotZero(t, snap.SourceQueries)
	assert.NotZero(t, snap.TargetQueries)
}

// ----------------------------------------------------------------------------
// Construction Tests
// ----------------------------------------------------------------------------

func TestNew_InvalidMappingSet(t *testing.T) {
	src := newFakeSource()
	tgt := newFakeTarget()

	bad := testMapping("orders")
	bad.PrimaryKey = nil

	_, err := New(src, tgt, []mapping.Table{bad}, fastOptions())
	require.Error(t, err)
	assert.Equal(t, "CONFIG_ERROR", syncerr.Code(err))
}

func TestSync_RunIDsUnique(t *testing.T) {
	src := newFakeSource()
	tgt := newFakeTarget()

	eng := newTestEngine(t, src, tgt, nil, fastOptions())
	a := eng.Sync(context.Background(), ModeIncremental)
	b := eng.Sync(context.Background(), ModeIncremental)

	assert.NotEmpty(t, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
}
