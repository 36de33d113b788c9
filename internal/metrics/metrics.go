// Package metrics collects cheap atomic counters for sync runs. A Snapshot
// is safe to serialize and exposes derived rates for the status server.
package metrics

import "sync/atomic"

// Metrics accumulates counters across runs. The zero value is ready to use
// and all methods are safe for concurrent callers.
type Metrics struct {
	syncsTotal     atomic.Uint64
	syncsSuccess   atomic.Uint64
	syncsFailed    atomic.Uint64
	recordsSynced  atomic.Uint64
	recordsFailed  atomic.Uint64
	syncDurationMS atomic.Uint64
	sourceQueries  atomic.Uint64
	targetQueries  atomic.Uint64
	retries        atomic.Uint64
}

// New returns an empty Metrics collector.
func New() *Metrics { return &Metrics{} }

// RecordSync records one completed run.
func (m *Metrics) RecordSync(success bool, records, failed, durationMS uint64) {
	m.syncsTotal.Add(1)
	if success {
		m.syncsSuccess.Add(1)
	} else {
		m.syncsFailed.Add(1)
	}
	m.recordsSynced.Add(records)
	m.recordsFailed.Add(failed)
	m.syncDurationMS.Add(durationMS)
}

// RecordSourceQuery counts one statement issued to the source store.
func (m *Metrics) RecordSourceQuery() { m.sourceQueries.Add(1) }

// RecordTargetQuery counts one statement issued to the target store.
func (m *Metrics) RecordTargetQuery() { m.targetQueries.Add(1) }

// RecordRetry counts one backoff retry.
func (m *Metrics) RecordRetry() { m.retries.Add(1) }

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SyncsTotal:     m.syncsTotal.Load(),
		SyncsSuccess:   m.syncsSuccess.Load(),
		SyncsFailed:    m.syncsFailed.Load(),
		RecordsSynced:  m.recordsSynced.Load(),
		RecordsFailed:  m.recordsFailed.Load(),
		SyncDurationMS: m.syncDurationMS.Load(),
		SourceQueries:  m.sourceQueries.Load(),
		TargetQueries:  m.targetQueries.Load(),
		Retries:        m.retries.Load(),
	}
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.syncsTotal.Store(0)
	m.syncsSuccess.Store(0)
	m.syncsFailed.Store(0)
	m.recordsSynced.Store(0)
	m.recordsFailed.Store(0)
	m.syncDurationMS.Store(0)
	m.sourceQueries.Store(0)
	m.targetQueries.Store(0)
	m.retries.Store(0)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	SyncsTotal     uint64 `json:"syncs_total"`
	SyncsSuccess   uint64 `json:"syncs_success"`
	SyncsFailed    uint64 `json:"syncs_failed"`
	RecordsSynced  uint64 `json:"records_synced"`
	RecordsFailed  uint64 `json:"records_failed"`
	SyncDurationMS uint64 `json:"sync_duration_ms"`
	SourceQueries  uint64 `json:"source_queries"`
	TargetQueries  uint64 `json:"target_queries"`
	Retries        uint64 `json:"retries"`
}

// SuccessRate returns the fraction of runs that succeeded.
func (s Snapshot) SuccessRate() float64 {
	if s.SyncsTotal == 0 {
		return 0
	}
	return float64(s.SyncsSuccess) / float64(s.SyncsTotal)
}

// AvgSyncDurationMS returns the mean run duration in milliseconds.
func (s Snapshot) AvgSyncDurationMS() float64 {
	if s.SyncsTotal == 0 {
		return 0
	}
	return float64(s.SyncDurationMS) / float64(s.SyncsTotal)
}

// RecordsPerSecond returns overall write throughput.
func (s Snapshot) RecordsPerSecond() float64 {
	if s.SyncDurationMS == 0 {
		return 0
	}
	return float64(s.RecordsSynced) * 1000.0 / float64(s.SyncDurationMS)
}
