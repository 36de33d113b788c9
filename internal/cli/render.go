package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ducktools/ducksync/internal/engine"
)

// tableReport is the serializable view of one table's outcome.
type tableReport struct {
	SourceTable string `json:"source_table"`
	TargetTable string `json:"target_table"`
	State       string `json:"state"`
	RowsFetched int64  `json:"rows_fetched"`
	RowsWritten int64  `json:"rows_written"`
	RowsMarked  int64  `json:"rows_marked"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	Error       string `json:"error,omitempty"`
}

// runReport is the serializable view of a whole run.
type runReport struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	ElapsedMS   int64         `json:"elapsed_ms"`
	Ok          bool          `json:"ok"`
	RowsWritten int64         `json:"rows_written"`
	Tables      []tableReport `json:"tables"`
}

func buildReport(res engine.Result) runReport {
	report := runReport{
		RunID:       res.RunID,
		Mode:        string(res.Mode),
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
		ElapsedMS:   res.Elapsed.Milliseconds(),
		Ok:          res.AllSucceeded(),
		RowsWritten: res.TotalWritten(),
	}
	for _, tr := range res.Tables {
		report.Tables = append(report.Tables, tableReport{
			SourceTable: tr.SourceTable,
			TargetTable: tr.TargetTable,
			State:       string(tr.State),
			RowsFetched: tr.RowsFetched,
			RowsWritten: tr.RowsWritten,
			RowsMarked:  tr.RowsMarked,
			ElapsedMS:   tr.Elapsed.Milliseconds(),
			Error:       tr.ErrorMessage(),
		})
	}
	return report
}

func renderResult(w io.Writer, format string, res engine.Result) error {
	report := buildReport(res)

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tSTATE\tFETCHED\tWRITTEN\tMARKED\tELAPSED\tERROR")
	for _, t := range report.Tables {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%dms\t%s\n",
			t.SourceTable, t.TargetTable, t.State,
			t.RowsFetched, t.RowsWritten, t.RowsMarked, t.ElapsedMS, t.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nrun %s (%s): %d rows written in %dms\n",
		report.RunID, report.Mode, report.RowsWritten, report.ElapsedMS)
	return nil
}
