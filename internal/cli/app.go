package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studentutu/shipyard/internal/builder"
	"github.com/studentutu/shipyard/internal/config"
	"github.com/studentutu/shipyard/internal/procrun"
	"github.com/studentutu/shipyard/internal/runctl"
	"github.com/studentutu/shipyard/internal/store"
	"github.com/studentutu/shipyard/internal/strategy"
	"github.com/studentutu/shipyard/pkg/model"
)

// app bundles the wired components a command needs.
type app struct {
	store      store.Store
	controller *runctl.Controller
}

// buildApp opens the store and wires the strategy registry and controller.
// strategyOverride, when non-empty, replaces the configured strategy for
// this invocation.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, strategyOverride string) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	policy := procrun.ExitPolicy{CancelCodes: cfg.CancelExitCodes}
	if len(policy.CancelCodes) == 0 {
		policy = procrun.DefaultExitPolicy()
	}

	reg := strategy.NewRegistry(logger)
	reg.Register(strategy.NewArchiveStrategy(cfg.Archive.Dir, cfg.Archive.NameTemplate))
	reg.Register(strategy.NewCommandStrategy(cfg.Command.Command, cfg.Command.AllowEmptyTargets, policy))
	if cfg.S3.Bucket != "" {
		up, err := strategy.NewS3Uploader(ctx, cfg.S3.Region)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("configure s3 uploader: %w", err)
		}
		reg.Register(strategy.NewS3Strategy(up, cfg.S3.Bucket, cfg.S3.Prefix))
	}

	strategyType := model.StrategyType(cfg.Strategy)
	if strategyOverride != "" {
		strategyType = model.StrategyType(strategyOverride)
	}
	if _, err := reg.Get(strategyType); err != nil {
		st.Close()
		return nil, err
	}

	ctrl := runctl.New(runctl.Options{
		Logger:       logger,
		Store:        st,
		Builder:      builder.NewCommandBuilder(logger),
		Registry:     reg,
		Lock:         runctl.NewFileLock(cfg.LockPath),
		Targets:      cfg.Targets,
		Strategy:     strategyType,
		TickInterval: cfg.TickInterval(),
	})

	return &app{store: st, controller: ctrl}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
