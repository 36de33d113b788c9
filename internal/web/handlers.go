package web

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	DuckDB   string `json:"duckdb"`
}

// handleHealth pings both stores. Either store failing turns the response
// into a 503 so load balancers and uptime checks see the outage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok", Postgres: "ok", DuckDB: "ok"}
	status := http.StatusOK

	if err := s.source.Ping(ctx); err != nil {
		resp.Postgres = err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if err := s.target.Ping(ctx); err != nil {
		resp.DuckDB = err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

type tableStatus struct {
	SourceTable string `json:"source_table"`
	TargetTable string `json:"target_table"`
	Unsynced    int64  `json:"unsynced"`
	TargetRows  int64  `json:"target_rows"`
	Error       string `json:"error,omitempty"`
}

// handleStatus reports, per enabled mapping, how many source rows still
// await propagation and how many rows the destination currently holds.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var out []tableStatus
	for _, m := range s.tables {
		if !m.Enabled {
			continue
		}

		ts := tableStatus{SourceTable: m.SourceTable, TargetTable: m.TargetTable}

		unsynced, err := s.source.UnsyncedCount(ctx, m)
		if err != nil {
			ts.Error = err.Error()
			out = append(out, ts)
			continue
		}
		ts.Unsynced = unsynced

		rows, err := s.target.CountRows(ctx, m.TargetTable)
		if err != nil {
			// A destination table that does not exist yet is not an error
			// worth failing the whole status response for.
			ts.Error = err.Error()
		} else {
			ts.TargetRows = rows
		}

		out = append(out, ts)
	}

	writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

// handleMetrics dumps the counter snapshot plus derived rates.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics collection disabled")
		return
	}

	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"counters":             snap,
		"success_rate":         snap.SuccessRate(),
		"avg_sync_duration_ms": snap.AvgSyncDurationMS(),
		"records_per_second":   snap.RecordsPerSecond(),
	})
}
