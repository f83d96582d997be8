// Package app provides the top-level application lifecycle for tradecycle. It
// wires stores, market data, the broker, optional Redis and S3 backends, and
// the cycle services, then runs the command the CLI asked for.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradecycle/internal/config"
	"github.com/alanyoungcy/tradecycle/internal/pipeline"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// wire builds the dependencies on first use.
func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	if a.deps != nil {
		return a.deps, nil
	}
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.deps = deps
	return deps, nil
}

// Stage runs one cycle stage (screen, optimize, dispatch or reconcile) and
// checks the invariant afterwards.
func (a *App) Stage(ctx context.Context, stage string) (pipeline.CycleReport, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return pipeline.CycleReport{}, err
	}
	return deps.Cycle.RunStage(ctx, stage)
}

// Cycle runs every stage once.
func (a *App) Cycle(ctx context.Context) (pipeline.CycleReport, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return pipeline.CycleReport{}, err
	}
	return deps.Cycle.Run(ctx)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.deps = nil
}
