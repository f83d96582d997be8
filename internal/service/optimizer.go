package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecycle/internal/backtest"
	"github.com/alanyoungcy/tradecycle/internal/batch"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/strategy"
)

// OptimizerConfig controls the parameter search.
type OptimizerConfig struct {
	Workers   int
	Window    int
	Objective backtest.Objective
	// SpaceDir holds optional <strategy>.yaml search-space overrides.
	SpaceDir string
	// Tickers are optimized directly, without a SCREENED record, when no
	// position is active for them.
	Tickers []string
}

// OptimizeResult is the per-ticker outcome of OptimizeParameters.
type OptimizeResult struct {
	Ticker     string
	Kind       OutcomeKind
	PositionID string
	Best       *domain.StrategyParameters
	Err        error
}

// OptimizeReport collects the results of one OptimizeParameters pass.
type OptimizeReport struct {
	Results   []OptimizeResult
	Optimized int
	Skipped   int
	Failed    int
}

func (r *OptimizeReport) add(res OptimizeResult) {
	r.Results = append(r.Results, res)
	switch res.Kind {
	case OutcomePassed:
		r.Optimized++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Optimizer grid-searches strategy parameters against a backtest and stores
// the winner on the ticker's position.
type Optimizer struct {
	lc         *Lifecycle
	prices     domain.PriceProvider
	strategies *strategy.Catalogue
	engine     *backtest.Engine
	reports    domain.ReportSink
	cfg        OptimizerConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(
	lc *Lifecycle,
	prices domain.PriceProvider,
	strategies *strategy.Catalogue,
	engine *backtest.Engine,
	cfg OptimizerConfig,
	logger *slog.Logger,
) *Optimizer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Objective == "" {
		cfg.Objective = backtest.ObjectiveTotalReturn
	}
	return &Optimizer{
		lc:         lc,
		prices:     prices,
		strategies: strategies,
		engine:     engine,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "optimizer")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithReportSink hands every optimization report to sink. Sink failures are
// logged and otherwise ignored.
func (o *Optimizer) WithReportSink(sink domain.ReportSink) *Optimizer {
	o.reports = sink
	return o
}

// candidate is the best point a worker found in its slice of the grid.
type candidate struct {
	index  int
	score  float64
	params strategy.Params
	found  bool
}

// better reports whether c beats best: strictly higher score, or an equal
// score at a lower grid index.
func (c candidate) better(best candidate) bool {
	if !c.found {
		return false
	}
	if !best.found || c.score > best.score {
		return true
	}
	return c.score == best.score && c.index < best.index
}

// OptimizeTicker searches every strategy in strategies over one price series
// for ticker and returns the best parameter set found across them.
func (o *Optimizer) OptimizeTicker(ctx context.Context, ticker string, strategies []strategy.Strategy) (best domain.StrategyParameters, report domain.OptimizationReport, err error) {
	report = domain.OptimizationReport{
		Ticker:    ticker,
		Objective: string(o.cfg.Objective),
		StartedAt: o.now(),
	}
	defer func() { report.Duration = o.now().Sub(report.StartedAt) }()

	series, err := o.prices.GetPriceSeries(ctx, ticker, o.cfg.Window)
	if err != nil {
		return best, report, fmt.Errorf("optimizer: load %s: %w", ticker, err)
	}

	found := false
	for _, strat := range strategies {
		res, cand, serr := o.search(ctx, series, strat)
		if serr != nil && ctx.Err() != nil {
			return domain.StrategyParameters{}, report, serr
		}
		report.Strategies = append(report.Strategies, res)
		if serr != nil {
			o.logger.WarnContext(ctx, "strategy search failed",
				slog.String("ticker", ticker),
				slog.String("strategy", strat.Name()),
				slog.String("error", serr.Error()),
			)
			continue
		}
		if !found || cand.score > best.Score {
			best = domain.StrategyParameters{
				Strategy:  strat.Name(),
				Values:    cand.params,
				Objective: string(o.cfg.Objective),
				Score:     cand.score,
			}
			found = true
		}
	}

	if !found {
		return domain.StrategyParameters{}, report, fmt.Errorf("optimizer: %s: %w", ticker, domain.ErrNoValidCombination)
	}
	report.Best = &best
	return best, report, nil
}

// search evaluates the grid of strat over series. The grid's index space is
// split into contiguous ranges, one per worker.
func (o *Optimizer) search(ctx context.Context, series []domain.Bar, strat strategy.Strategy) (domain.StrategySearchResult, candidate, error) {
	res := domain.StrategySearchResult{Strategy: strat.Name()}
	fail := func(err error) (domain.StrategySearchResult, candidate, error) {
		res.Error = err.Error()
		return res, candidate{}, err
	}

	space, err := strategy.LoadSpace(o.cfg.SpaceDir, strat.Name())
	if err != nil {
		return fail(err)
	}
	if space == nil {
		space = strat.DefaultSpace()
	}
	grid, err := strategy.NewGrid(space)
	if err != nil {
		return fail(fmt.Errorf("optimizer: %s: %w", strat.Name(), err))
	}

	ranges := batch.Ranges(grid.Len(), o.cfg.Workers)
	bests := make([]candidate, len(ranges))
	failed := make([]int, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	for w, r := range ranges {
		g.Go(func() error {
			var local candidate
			for i := r.Start; i < r.End; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				params := grid.At(i)
				score, err := o.evaluate(series, strat, params)
				if err != nil {
					failed[w]++
					continue
				}
				c := candidate{index: i, score: score, params: params, found: true}
				if c.better(local) {
					local = c
				}
			}
			bests[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(fmt.Errorf("optimizer: %s: %w", strat.Name(), err))
	}

	var best candidate
	for w := range ranges {
		res.Failed += failed[w]
		if bests[w].better(best) {
			best = bests[w]
		}
	}
	res.Evaluated = grid.Len() - res.Failed
	if !best.found {
		return fail(fmt.Errorf("optimizer: %s: %w", strat.Name(), domain.ErrNoValidCombination))
	}
	res.Best = maps.Clone(best.params)
	res.Score = best.score
	return res, best, nil
}

func (o *Optimizer) evaluate(series []domain.Bar, strat strategy.Strategy, params strategy.Params) (float64, error) {
	signals, err := strat.ModelTradingSignals(series, params)
	if err != nil {
		return 0, err
	}
	stats, err := o.engine.Run(series, signals)
	if err != nil {
		return 0, err
	}
	score := o.cfg.Objective.Score(stats)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("optimizer: non-finite score %v", score)
	}
	return score, nil
}

// OptimizeParameters optimizes every ticker holding a SCREENED position plus
// the configured direct tickers, using the named strategy or all of them.
// Failures are contained per ticker.
func (o *Optimizer) OptimizeParameters(ctx context.Context, strategyName string) (OptimizeReport, error) {
	strategies, err := o.strategies.Select(strategyName)
	if err != nil {
		return OptimizeReport{}, fmt.Errorf("optimizer: %w", err)
	}
	tickers, err := o.lc.Tickers(ctx, domain.PositionStatusScreened)
	if err != nil {
		return OptimizeReport{}, fmt.Errorf("optimizer: list screened: %w", err)
	}
	tickers = dedupe(append(tickers, o.cfg.Tickers...))

	var report OptimizeReport
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := o.optimizeOne(ctx, ticker, strategies)
		if res.Err != nil {
			o.logger.WarnContext(ctx, "optimize ticker failed",
				slog.String("ticker", ticker),
				slog.String("error", res.Err.Error()),
			)
		}
		report.add(res)
	}
	o.logger.InfoContext(ctx, "optimization complete",
		slog.Int("tickers", len(tickers)),
		slog.Int("optimized", report.Optimized),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (o *Optimizer) optimizeOne(ctx context.Context, ticker string, strategies []strategy.Strategy) OptimizeResult {
	res := OptimizeResult{Ticker: ticker}
	failed := func(err error) OptimizeResult {
		res.Kind, res.Err = OutcomeFailed, err
		return res
	}

	// cheap pre-check so blocked tickers skip the search
	target, skip, err := o.target(ctx, ticker)
	if err != nil {
		return failed(err)
	}
	if skip {
		res.Kind = OutcomeSkipped
		return res
	}

	best, report, err := o.OptimizeTicker(ctx, ticker, strategies)
	o.publishReport(ctx, report)
	if err != nil {
		return failed(err)
	}

	// fresh read before the write
	if target, skip, err = o.target(ctx, ticker); err != nil {
		return failed(err)
	}
	if skip {
		res.Kind = OutcomeSkipped
		return res
	}

	var pos domain.Position
	if target != nil {
		pos, err = o.lc.Transition(ctx, *target, domain.PositionStatusOptimized, domain.PositionPatch{Parameters: &best})
	} else {
		pos, err = o.lc.Create(ctx, domain.Position{
			Ticker:     ticker,
			Status:     domain.PositionStatusOptimized,
			Parameters: &best,
		})
	}
	if err != nil {
		return failed(fmt.Errorf("optimizer: store %s: %w", ticker, err))
	}
	res.Kind, res.PositionID, res.Best = OutcomePassed, pos.ID, &best
	return res
}

// target returns the SCREENED record to promote, or nil when a new
// OPTIMIZED record should be created. skip is true when the ticker is
// already past optimization or otherwise blocked. Under the narrow policy an
// OPEN ticker is re-optimized.
func (o *Optimizer) target(ctx context.Context, ticker string) (*domain.Position, bool, error) {
	screened, err := o.lc.Find(ctx, ticker, domain.PositionStatusScreened)
	if err != nil {
		return nil, false, fmt.Errorf("optimizer: read %s: %w", ticker, err)
	}
	if screened != nil {
		return screened, false, nil
	}
	blocked, err := o.lc.OptimizeBlocked(ctx, ticker)
	if err != nil {
		return nil, false, fmt.Errorf("optimizer: check %s: %w", ticker, err)
	}
	return nil, blocked, nil
}

func (o *Optimizer) publishReport(ctx context.Context, report domain.OptimizationReport) {
	if o.reports == nil {
		return
	}
	if err := o.reports.WriteReport(ctx, report); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.WarnContext(ctx, "write optimization report failed",
			slog.String("ticker", report.Ticker),
			slog.String("error", err.Error()),
		)
	}
}
