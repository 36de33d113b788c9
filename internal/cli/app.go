package cli

import (
	"context"

	"github.com/ducktools/ducksync/internal/config"
	"github.com/ducktools/ducksync/internal/engine"
	"github.com/ducktools/ducksync/internal/logging"
	"github.com/ducktools/ducksync/internal/mapping"
	"github.com/ducktools/ducksync/internal/source"
	"github.com/ducktools/ducksync/internal/target"
)

// app holds everything a command needs after startup: validated config, the
// table-mapping set, and live clients for both stores.
type app struct {
	cfg    *config.Config
	tables []mapping.Table
	src    *source.Client
	tgt    *target.Client
}

// setup loads configuration, configures logging, and connects both stores.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	tables, err := config.LoadTables()
	if err != nil {
		return nil, err
	}

	src, err := source.Connect(ctx, cfg.Postgres, cfg.Sync.BatchSize)
	if err != nil {
		return nil, err
	}

	tgt, err := target.Connect(ctx, cfg.DuckDB, cfg.Sync.BatchSize)
	if err != nil {
		src.Close()
		return nil, err
	}

	return &app{cfg: cfg, tables: tables, src: src, tgt: tgt}, nil
}

func (a *app) close() {
	a.tgt.Close()
	a.src.Close()
}

// sourceAdapter narrows *source.Client to the engine's Source interface.
// The concrete Fetch returns *source.RowIter, which Go will not implicitly
// widen to engine.RowIter in an interface method set.
type sourceAdapter struct {
	*source.Client
}

func (a sourceAdapter) Fetch(ctx context.Context, m mapping.Table, full bool, limit int) (engine.RowIter, error) {
	return a.Client.Fetch(ctx, m, full, limit)
}

// targetAdapter narrows *target.Client to the engine's Target interface.
type targetAdapter struct {
	*target.Client
}

func (a targetAdapter) Writer(ctx context.Context, m mapping.Table) (engine.ChunkWriter, error) {
	return a.Client.Writer(ctx, m)
}

var (
	_ engine.Source       = sourceAdapter{}
	_ engine.Target       = targetAdapter{}
	_ engine.SyncRecorder = targetAdapter{}
	_ engine.RowIter      = (*source.RowIter)(nil)
)
