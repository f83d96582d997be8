package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecycle/internal/marketdata/polygon"
	"github.com/alanyoungcy/tradecycle/internal/server"
	"github.com/alanyoungcy/tradecycle/internal/server/handler"
)

// Run starts the scheduled cycle loop and, when enabled, the HTTP server. It
// blocks until ctx is cancelled or the loop stops on an invariant violation.
func (a *App) Run(ctx context.Context) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "starting run mode",
		slog.Duration("interval", a.cfg.Cycle.Interval.Duration),
		slog.Int("universe", len(deps.Universe)),
		slog.Bool("server", a.cfg.Server.Enabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Cycle.RunLoop(ctx, a.cfg.Cycle.Interval.Duration)
	})
	if a.cfg.Server.Enabled {
		srv := server.New(server.Config{
			Addr:   a.cfg.Server.Addr,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    deps.Health,
			Positions: handler.NewPositionHandler(deps.Positions, a.logger),
			Cycle:     handler.NewCycleHandler(deps.Cycle, a.logger),
		}, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	return g.Wait()
}

// Refresh pulls daily bars from Polygon into the bar store for the universe,
// or for every ticker already stored when the universe is empty.
func (a *App) Refresh(ctx context.Context, asOf time.Time, progress io.Writer) (polygon.RefreshResult, error) {
	if a.cfg.Polygon.APIKey == "" {
		return polygon.RefreshResult{}, errors.New("app: refresh: polygon api_key is not set")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return polygon.RefreshResult{}, err
	}
	tickers := deps.Universe
	if len(tickers) == 0 {
		if tickers, err = deps.Bars.Tickers(ctx); err != nil {
			return polygon.RefreshResult{}, fmt.Errorf("app: refresh: %w", err)
		}
	}

	r := polygon.NewRefresher(
		polygon.NewSource(a.cfg.Polygon.APIKey),
		deps.Bars,
		a.cfg.Polygon.Backfill.Duration,
		progress,
		a.logger,
	)
	res, err := r.Refresh(ctx, tickers, asOf)
	if err != nil {
		return res, fmt.Errorf("app: refresh: %w", err)
	}
	a.logger.InfoContext(ctx, "refresh complete",
		slog.Int("tickers", res.Tickers),
		slog.Int("bars", res.Bars),
		slog.Int("failed", len(res.Failures)),
	)
	return res, nil
}

// ArchiveResult counts the rows uploaded by Archive.
type ArchiveResult struct {
	Positions int
	Audit     int
}

// Archive uploads one UTC day of closed positions and audit entries to the
// configured bucket.
func (a *App) Archive(ctx context.Context, day time.Time) (ArchiveResult, error) {
	if !a.cfg.S3.Enabled {
		return ArchiveResult{}, errors.New("app: archive: s3 is not enabled")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return ArchiveResult{}, err
	}
	var res ArchiveResult
	if res.Positions, err = deps.Archiver.ArchivePositions(ctx, day); err != nil {
		return res, fmt.Errorf("app: archive: %w", err)
	}
	if res.Audit, err = deps.Archiver.ArchiveAudit(ctx, day); err != nil {
		return res, fmt.Errorf("app: archive: %w", err)
	}
	return res, nil
}
