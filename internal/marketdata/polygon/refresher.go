package polygon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// BarSource yields daily bars for a ticker and date range.
type BarSource interface {
	DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error)
}

// BarStore is where refreshed bars land.
type BarStore interface {
	domain.BarWriter
	GetLastRecordDate(ctx context.Context, ticker string) (optional.Option[time.Time], error)
}

// RefreshResult reports what one refresh did.
type RefreshResult struct {
	Tickers  int
	Bars     int
	Failures map[string]error
}

// Refresher brings the bar store up to date ticker by ticker.
type Refresher struct {
	source   BarSource
	store    BarStore
	backfill time.Duration
	progress io.Writer
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. Tickers without stored bars are
// backfilled by backfill. progress receives a progress bar; nil disables it.
func NewRefresher(source BarSource, store BarStore, backfill time.Duration, progress io.Writer, logger *slog.Logger) *Refresher {
	if progress == nil {
		progress = io.Discard
	}
	return &Refresher{
		source:   source,
		store:    store,
		backfill: backfill,
		progress: progress,
		logger:   logger.With(slog.String("component", "refresher")),
	}
}

// Refresh fetches bars after each ticker's last stored bar up to asOf. A
// failing ticker is recorded and the rest continue.
func (r *Refresher) Refresh(ctx context.Context, tickers []string, asOf time.Time) (RefreshResult, error) {
	res := RefreshResult{Failures: make(map[string]error)}
	bar := progressbar.NewOptions(len(tickers),
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionSetDescription("refreshing bars"),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	to := truncateDay(asOf)
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := r.refreshTicker(ctx, ticker, to)
		_ = bar.Add(1)
		if err != nil {
			res.Failures[ticker] = err
			r.logger.WarnContext(ctx, "refresh failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Tickers++
		res.Bars += n
	}
	return res, nil
}

func (r *Refresher) refreshTicker(ctx context.Context, ticker string, to time.Time) (int, error) {
	last, err := r.store.GetLastRecordDate(ctx, ticker)
	if err != nil {
		return 0, err
	}
	from := to.Add(-r.backfill)
	if last.IsSome() {
		from = truncateDay(last.Unwrap()).AddDate(0, 0, 1)
	}
	if from.After(to) {
		return 0, nil
	}

	bars, err := r.source.DailyBars(ctx, ticker, from, to)
	if err != nil {
		return 0, err
	}
	if err := r.store.UpsertBars(ctx, bars); err != nil {
		return 0, fmt.Errorf("store bars for %s: %w", ticker, err)
	}
	r.logger.DebugContext(ctx, "refreshed",
		slog.String("ticker", ticker),
		slog.Int("bars", len(bars)),
		slog.Time("from", from),
	)
	return len(bars), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
