package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducktools/ducksync/internal/engine"
	"github.com/ducktools/ducksync/internal/metrics"
	"github.com/ducktools/ducksync/internal/retry"
	"github.com/ducktools/ducksync/internal/web"
)

type syncOptions struct {
	full       bool
	batchSize  int
	maxRecords int
	noMark     bool
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass over all enabled table mappings",
		Long: `Run one sync pass. In incremental mode (the default) only rows whose
sync flag is false are copied, and each batch is marked synced after it
lands durably in the target. --full copies every row matching the
mapping's filter and leaves the flags alone.

Exits nonzero when any table fails; succeeding tables keep their progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "copy all rows, ignore and leave sync flags")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "override SYNC_BATCH_SIZE")
	cmd.Flags().IntVar(&opts.maxRecords, "max-records", -1, "override SYNC_MAX_RECORDS (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.noMark, "no-mark", false, "skip marking source rows synced")

	return cmd
}

func runSync(cmd *cobra.Command, root *rootOptions, opts *syncOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	if opts.batchSize > 0 {
		cfg.Sync.BatchSize = opts.batchSize
	}
	if opts.maxRecords >= 0 {
		cfg.Sync.MaxRecords = opts.maxRecords
	}
	if opts.noMark {
		cfg.Sync.MarkSynced = false
	}

	m := metrics.New()

	if cfg.Status.Addr != "" {
		srv := web.NewServer(a.src, a.tgt, a.tables, m)
		go func() {
			if err := srv.Start(cfg.Status.Addr); err != nil && err != http.ErrServerClosed {
				slog.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	eng, err := engine.New(sourceAdapter{a.src}, targetAdapter{a.tgt}, a.tables, engine.Options{
		BatchSize:        cfg.Sync.BatchSize,
		MaxRecords:       cfg.Sync.MaxRecords,
		AutoCreateTables: cfg.Sync.AutoCreateTables,
		MarkSynced:       cfg.Sync.MarkSynced,
		Policy: retry.Policy{
			MaxRetries:     uint(cfg.Retry.MaxRetries),
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
			Jitter:         cfg.Retry.Jitter,
		},
		Metrics: m,
		Observer: func(p engine.Progress) {
			slog.Debug("progress", "table", p.Table, "phase", p.Phase, "rows", p.RowsProcessed)
		},
	})
	if err != nil {
		return err
	}

	mode := engine.ModeIncremental
	if opts.full {
		mode = engine.ModeFull
	}

	res := eng.Sync(ctx, mode)

	if err := renderResult(cmd.OutOrStdout(), root.output, res); err != nil {
		return err
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d tables failed", len(failed), len(res.Tables))
	}
	return nil
}
