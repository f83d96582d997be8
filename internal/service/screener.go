package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecycle/internal/batch"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/indicator"
)

// OutcomeKind tags the result of processing one ticker in a batch.
type OutcomeKind string

const (
	OutcomePassed   OutcomeKind = "passed"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the per-ticker result of a screening pass.
type Outcome struct {
	Ticker       string
	Kind         OutcomeKind
	PositionID   string
	DollarVolume float64
	Efficiency   float64
	Err          error
}

// ScreenReport collects the outcomes of one pass in universe order.
type ScreenReport struct {
	Outcomes []Outcome
	Passed   int
	Rejected int
	Skipped  int
	Failed   int
}

func (r *ScreenReport) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomePassed:
		r.Passed++
	case OutcomeRejected:
		r.Rejected++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// ScreenerConfig holds the screening thresholds.
type ScreenerConfig struct {
	Workers         int
	Lookback        int
	MinDollarVolume float64
	// MinEfficiency of zero disables the efficiency filter.
	MinEfficiency float64
}

// Screener filters the universe down to liquid, trending tickers and records
// each survivor as a SCREENED position.
type Screener struct {
	lc     *Lifecycle
	prices domain.PriceProvider
	cfg    ScreenerConfig
	logger *slog.Logger
}

// NewScreener creates a Screener.
func NewScreener(lc *Lifecycle, prices domain.PriceProvider, cfg ScreenerConfig, logger *slog.Logger) *Screener {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Screener{
		lc:     lc,
		prices: prices,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "screener")),
	}
}

// ScreenInParallel screens universe in batches, one goroutine per batch, and
// returns once every batch has finished. A failing ticker is reported in its
// outcome and never stops the other tickers.
func (s *Screener) ScreenInParallel(ctx context.Context, universe []string) (ScreenReport, error) {
	groups := batch.Split(dedupe(universe), s.cfg.Workers)
	results := make([][]Outcome, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		g.Go(func() error {
			out := make([]Outcome, 0, len(group))
			for _, ticker := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				out = append(out, s.screenTicker(gctx, ticker))
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScreenReport{}, fmt.Errorf("screener: %w", err)
	}

	var report ScreenReport
	for _, out := range results {
		for _, o := range out {
			report.add(o)
		}
	}
	s.logger.InfoContext(ctx, "screening complete",
		slog.Int("universe", len(universe)),
		slog.Int("batches", len(groups)),
		slog.Int("passed", report.Passed),
		slog.Int("rejected", report.Rejected),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Screener) screenTicker(ctx context.Context, ticker string) Outcome {
	o := Outcome{Ticker: ticker}
	fail := func(err error) Outcome {
		o.Kind, o.Err = OutcomeFailed, err
		s.logger.WarnContext(ctx, "screen ticker failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		return o
	}

	blocked, err := s.lc.Blocked(ctx, ticker)
	if err != nil {
		return fail(fmt.Errorf("screener: check %s: %w", ticker, err))
	}
	if blocked {
		o.Kind = OutcomeSkipped
		return o
	}

	bars, err := s.prices.GetPriceSeries(ctx, ticker, s.cfg.Lookback)
	if err != nil {
		return fail(fmt.Errorf("screener: load %s: %w", ticker, err))
	}
	if o.DollarVolume, err = indicator.MeanDollarVolume(bars); err != nil {
		return fail(fmt.Errorf("screener: %s: %w", ticker, err))
	}
	if o.Efficiency, err = indicator.EfficiencyRatio(domain.Closes(bars)); err != nil {
		return fail(fmt.Errorf("screener: %s: %w", ticker, err))
	}

	if o.DollarVolume <= s.cfg.MinDollarVolume ||
		(s.cfg.MinEfficiency > 0 && o.Efficiency < s.cfg.MinEfficiency) {
		o.Kind = OutcomeRejected
		s.logger.DebugContext(ctx, "ticker rejected",
			slog.String("ticker", ticker),
			slog.Float64("dollar_volume", o.DollarVolume),
			slog.Float64("efficiency", o.Efficiency),
		)
		return o
	}

	// re-read right before the write; another stage may have claimed it
	if blocked, err = s.lc.Blocked(ctx, ticker); err != nil {
		return fail(fmt.Errorf("screener: check %s: %w", ticker, err))
	}
	if blocked {
		o.Kind = OutcomeSkipped
		return o
	}
	pos, err := s.lc.Create(ctx, domain.Position{Ticker: ticker, Status: domain.PositionStatusScreened})
	if err != nil {
		return fail(fmt.Errorf("screener: create %s: %w", ticker, err))
	}
	o.Kind, o.PositionID = OutcomePassed, pos.ID
	return o
}

func dedupe(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
