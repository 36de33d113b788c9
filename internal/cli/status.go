package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ducktools/ducksync/internal/metrics"
	"github.com/ducktools/ducksync/internal/web"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connectivity and count unsynced rows per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			type row struct {
				SourceTable string `json:"source_table"`
				TargetTable string `json:"target_table"`
				Unsynced    int64  `json:"unsynced"`
				Error       string `json:"error,omitempty"`
			}

			var rows []row
			for _, m := range a.tables {
				if !m.Enabled {
					continue
				}
				r := row{SourceTable: m.SourceTable, TargetTable: m.TargetTable}
				if n, err := a.src.UnsyncedCount(ctx, m); err != nil {
					r.Error = err.Error()
				} else {
					r.Unsynced = n
				}
				rows = append(rows, r)
			}

			out := cmd.OutOrStdout()
			if root.output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"tables": rows})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tTARGET\tUNSYNCED\tERROR")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.SourceTable, r.TargetTable, r.Unsynced, r.Error)
			}
			return tw.Flush()
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP status server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.Status.Addr
			if addr == "" {
				addr = ":8080"
			}

			srv := web.NewServer(a.src, a.tgt, a.tables, metrics.New())

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				slog.Info("shutting down status server")
				return srv.Shutdown(cmd.Context())
			}
		},
	}
}
