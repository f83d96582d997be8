package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/backtest"
	"github.com/alanyoungcy/tradecycle/internal/bracket"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/strategy"
)

type captureSink struct {
	reports []domain.OptimizationReport
}

func (c *captureSink) WriteReport(_ context.Context, r domain.OptimizationReport) error {
	c.reports = append(c.reports, r)
	return nil
}

func newTestOptimizer(t *testing.T, lc *Lifecycle, prices *memPrices, cat *strategy.Catalogue, cfg OptimizerConfig) *Optimizer {
	t.Helper()
	if cfg.Window == 0 {
		cfg.Window = 40
	}
	return NewOptimizer(lc, prices, cat, testEngine(t), cfg, discardLogger())
}

func TestOptimizeTickerPicksStrictMaxLowestIndex(t *testing.T) {
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)
	prices := newMemPrices()
	prices.set("AAA", rising("AAA", 40, 1e6))
	strat := entryAt{name: "entry_at", dir: 1}

	for _, workers := range []int{1, 2, 4, 9} {
		o := newTestOptimizer(t, lc, prices, strategy.NewCatalogue(strat), OptimizerConfig{Workers: workers})
		best, report, err := o.OptimizeTicker(context.Background(), "AAA", []strategy.Strategy{strat})
		require.NoError(t, err, "workers=%d", workers)

		assert.Equal(t, "entry_at", best.Strategy)
		// x=1 enters earliest; every y ties, so the first grid point wins
		assert.Equal(t, map[string]float64{"x": 1, "y": 1}, best.Values, "workers=%d", workers)
		assert.InDelta(t, 139.0/111.0-1, best.Score, 1e-9)
		assert.Equal(t, string(backtest.ObjectiveTotalReturn), best.Objective)

		require.Len(t, report.Strategies, 1)
		assert.Equal(t, 9, report.Strategies[0].Evaluated)
		assert.Equal(t, 0, report.Strategies[0].Failed)
		require.NotNil(t, report.Best)
	}
}

func TestOptimizeTickerExcludesFailingCombinations(t *testing.T) {
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)
	prices := newMemPrices()
	prices.set("AAA", rising("AAA", 40, 1e6))
	strat := entryAt{name: "entry_at", dir: 1, failX: 1}

	o := newTestOptimizer(t, lc, prices, strategy.NewCatalogue(strat), OptimizerConfig{Workers: 3})
	best, report, err := o.OptimizeTicker(context.Background(), "AAA", []strategy.Strategy{strat})
	require.NoError(t, err)
	assert.Equal(t, 2.0, best.Values["x"])
	assert.Equal(t, 1.0, best.Values["y"])
	assert.Equal(t, 3, report.Strategies[0].Failed)
	assert.Equal(t, 6, report.Strategies[0].Evaluated)
}

func TestOptimizeTickerContinuesPastFailedStrategy(t *testing.T) {
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)
	prices := newMemPrices()
	prices.set("AAA", rising("AAA", 40, 1e6))
	broken := entryAt{name: "broken", dir: 1, failAll: true}
	good := entryAt{name: "good", dir: 1}

	o := newTestOptimizer(t, lc, prices, strategy.NewCatalogue(broken, good), OptimizerConfig{Workers: 2})
	best, report, err := o.OptimizeTicker(context.Background(), "AAA", []strategy.Strategy{broken, good})
	require.NoError(t, err)
	assert.Equal(t, "good", best.Strategy)
	require.Len(t, report.Strategies, 2)
	assert.Contains(t, report.Strategies[0].Error, domain.ErrNoValidCombination.Error())
	assert.Equal(t, 9, report.Strategies[0].Failed)

	_, _, err = o.OptimizeTicker(context.Background(), "AAA", []strategy.Strategy{broken})
	assert.True(t, errors.Is(err, domain.ErrNoValidCombination))
}

func TestOptimizeParametersPromotesScreened(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)
	prices := newMemPrices()
	for _, tk := range []string{"AAA", "BBB", "CCC"} {
		prices.set(tk, rising(tk, 40, 1e6))
	}
	strat := entryAt{name: "entry_at", dir: 1}
	sink := &captureSink{}

	screened, err := lc.Create(ctx, domain.Position{Ticker: "AAA", Status: domain.PositionStatusScreened})
	require.NoError(t, err)
	seedOpen(t, lc, "CCC", nil, 100, 1)

	o := newTestOptimizer(t, lc, prices, strategy.NewCatalogue(strat), OptimizerConfig{
		Workers: 2,
		Tickers: []string{"BBB", "CCC"},
	}).WithReportSink(sink)

	report, err := o.OptimizeParameters(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Optimized)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, sink.reports, 2)

	aaa, err := lc.Positions().GetByStatus(ctx, "AAA", domain.PositionStatusOptimized)
	require.NoError(t, err)
	assert.Equal(t, screened.ID, aaa.ID)
	require.NotNil(t, aaa.Parameters)
	assert.Equal(t, "entry_at", aaa.Parameters.Strategy)

	bbb, err := lc.Positions().GetByStatus(ctx, "BBB", domain.PositionStatusOptimized)
	require.NoError(t, err)
	assert.NotEmpty(t, bbb.ID)

	_, err = lc.Positions().GetByStatus(ctx, "CCC", domain.PositionStatusOptimized)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, lc.Verify(ctx, []string{"AAA", "BBB", "CCC"}))

	// a rerun finds nothing left to do
	report, err = o.OptimizeParameters(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Optimized)
	require.NoError(t, lc.Verify(ctx, []string{"AAA", "BBB", "CCC"}))
}

func TestOptimizeParametersUnknownStrategy(t *testing.T) {
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)
	o := newTestOptimizer(t, lc, newMemPrices(), strategy.NewCatalogue(entryAt{name: "entry_at"}), OptimizerConfig{})
	_, err := o.OptimizeParameters(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestNarrowPolicyReoptimizesOpenTicker(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestLifecycle(t, domain.ActivePolicyNarrow)
	prices := newMemPrices()
	prices.set("AAA", rising("AAA", 40, 1e6))
	strat := entryAt{name: "entry_at", dir: 1}
	cat := strategy.NewCatalogue(strat)
	open := seedOpen(t, lc, "AAA", &domain.StrategyParameters{Strategy: "entry_at", Values: map[string]float64{"x": 3, "y": 3}}, 120, 10)

	o := newTestOptimizer(t, lc, prices, cat, OptimizerConfig{Workers: 2, Tickers: []string{"AAA"}})
	report, err := o.OptimizeParameters(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Optimized)
	require.NoError(t, lc.VerifyTicker(ctx, "AAA"))

	opt, err := lc.Positions().GetByStatus(ctx, "AAA", domain.PositionStatusOptimized)
	require.NoError(t, err)

	d := NewDispatcher(lc, prices, cat, &recordingBus{},
		DispatcherConfig{Window: 40, ATRWindow: 5, Multipliers: bracket.Multipliers{StopLoss: 1, TakeProfit: 2}},
		discardLogger())
	res, err := d.Dispatch(ctx, "AAA")
	require.NoError(t, err)
	assert.True(t, res.Adjustment)
	assert.Equal(t, opt.ID, res.Position.ID)
	assert.Equal(t, open.ID, res.Position.ParentID)
	assert.True(t, res.Signal.OpenPosition)
	require.NoError(t, lc.VerifyTicker(ctx, "AAA"))

	// the pending adjustment blocks another search
	report, err = o.OptimizeParameters(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
}
