package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/backtest"
	"github.com/alanyoungcy/tradecycle/internal/bracket"
	"github.com/alanyoungcy/tradecycle/internal/broker/paper"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/eventbus"
	"github.com/alanyoungcy/tradecycle/internal/metrics"
	"github.com/alanyoungcy/tradecycle/internal/notify"
	"github.com/alanyoungcy/tradecycle/internal/service"
	"github.com/alanyoungcy/tradecycle/internal/store/sqlite"
	"github.com/alanyoungcy/tradecycle/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type memPrices map[string][]domain.Bar

func (m memPrices) GetPriceSeries(_ context.Context, ticker string, window int) ([]domain.Bar, error) {
	bars := m[ticker]
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s: %w", ticker, domain.ErrInsufficientData)
	}
	if window > 0 && len(bars) > window {
		bars = bars[len(bars)-window:]
	}
	return bars, nil
}

func rising(ticker string, n int, volume float64) []domain.Bar {
	out := make([]domain.Bar, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = domain.Bar{
			Ticker: ticker, Time: day0.AddDate(0, 0, i),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: volume,
		}
	}
	return out
}

// lateLong goes long lag bars before the end of the series.
type lateLong struct{}

func (lateLong) Name() string { return "late_long" }

func (lateLong) DefaultSpace() []strategy.ParamRange {
	return []strategy.ParamRange{{Name: "lag", Min: 2, Max: 4, Step: 1}}
}

func (lateLong) ModelTradingSignals(series []domain.Bar, params strategy.Params) ([]int, error) {
	lag, err := params.Int("lag")
	if err != nil {
		return nil, err
	}
	out := make([]int, len(series))
	out[len(series)-1-lag] = 1
	return out, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	keys     []string
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, title+"|"+message)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

type harness struct {
	lc     *service.Lifecycle
	cycle  *Cycle
	sender *fakeSender
}

func newHarness(t *testing.T, universe []string, prices memPrices) harness {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryDSN(strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := discardLogger()
	lc := service.NewLifecycle(sqlite.NewPositionStore(db), sqlite.NewAuditStore(db), domain.ActivePolicyBroad, log)
	catalogue := strategy.NewCatalogue(lateLong{})
	engine, err := backtest.NewEngine(backtest.Config{
		Cash:        10000,
		ATRWindow:   5,
		Multipliers: bracket.Multipliers{StopLoss: 1, TakeProfit: 2},
	})
	require.NoError(t, err)

	bus := eventbus.New(log)
	orders := service.NewOrderManager(lc, paper.New(prices, 10000), prices,
		service.OrderManagerConfig{Allocation: 0.5, QtyStep: 1}, log)
	bus.Subscribe(domain.EventPositionSignal, orders.HandleSignal)

	screener := service.NewScreener(lc, prices, service.ScreenerConfig{Workers: 2, Lookback: 20, MinDollarVolume: 1e6}, log)
	optimizer := service.NewOptimizer(lc, prices, catalogue, engine, service.OptimizerConfig{Workers: 2, Window: 60}, log)
	dispatcher := service.NewDispatcher(lc, prices, catalogue, bus, service.DispatcherConfig{
		Window:      60,
		ATRWindow:   5,
		Multipliers: bracket.Multipliers{StopLoss: 1, TakeProfit: 2},
	}, log)

	sender := &fakeSender{}
	cycle := NewCycle(lc, screener, optimizer, dispatcher, orders, universe, CycleConfig{}, log).
		WithNotifier(notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventInvariant, notify.EventCycleFailed}, log))
	return harness{lc: lc, cycle: cycle, sender: sender}
}

func TestCycleRunsAllStages(t *testing.T) {
	ctx := context.Background()
	prices := memPrices{
		"AAA": rising("AAA", 60, 1e6),
		"BBB": rising("BBB", 60, 10),
	}
	h := newHarness(t, []string{"AAA", "BBB"}, prices)
	okBefore := testutil.ToFloat64(metrics.CycleRuns.WithLabelValues(metrics.ResultOK))

	report, err := h.cycle.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Screen.Passed)
	assert.Equal(t, 1, report.Screen.Rejected)
	assert.Equal(t, 1, report.Optimize.Optimized)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.Reconcile.Actions[service.ActionOpened])
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.CycleRuns.WithLabelValues(metrics.ResultOK)))

	open, err := h.lc.Positions().GetByStatus(ctx, "AAA", domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Equal(t, "late_long", open.StrategyName)
	assert.Equal(t, 159.0, open.EntryPrice)

	_, err = h.lc.Positions().GetByStatus(ctx, "BBB", domain.PositionStatusScreened)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	last := h.cycle.Last()
	require.NotNil(t, last)
	assert.Empty(t, last.Error)

	// a second cycle finds AAA blocked and keeps it open
	report, err = h.cycle.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Screen.Passed)
	assert.Equal(t, 0, report.Dispatched)
	require.NoError(t, h.lc.VerifyTicker(ctx, "AAA"))
}

func TestRunStageRunsOnlyThatStage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"AAA"}, memPrices{"AAA": rising("AAA", 60, 1e6)})

	report, err := h.cycle.RunStage(ctx, StageScreen)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Screen.Passed)
	assert.Zero(t, report.Optimize.Optimized)
	assert.Zero(t, report.Dispatched)

	_, err = h.lc.Positions().GetByStatus(ctx, "AAA", domain.PositionStatusScreened)
	require.NoError(t, err)

	report, err = h.cycle.RunStage(ctx, StageOptimize)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Optimize.Optimized)
	_, err = h.lc.Positions().GetByStatus(ctx, "AAA", domain.PositionStatusOptimized)
	require.NoError(t, err)
}

func TestRunStageRejectsUnknownStage(t *testing.T) {
	h := newHarness(t, nil, memPrices{})
	_, err := h.cycle.RunStage(context.Background(), "backfill")
	assert.ErrorContains(t, err, `unknown stage "backfill"`)
}

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"AAA"}, memPrices{"AAA": rising("AAA", 60, 1e6)})
	locker := &fakeLocker{err: fmt.Errorf("redis: lock cycle: %w", domain.ErrLockHeld)}
	h.cycle.WithLocker(locker)
	skippedBefore := testutil.ToFloat64(metrics.CycleRuns.WithLabelValues(metrics.ResultSkipped))

	report, err := h.cycle.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, []string{"cycle"}, locker.keys)
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(metrics.CycleRuns.WithLabelValues(metrics.ResultSkipped)))

	tickers, err := h.lc.Tickers(ctx, domain.AllPositionStatuses()...)
	require.NoError(t, err)
	assert.Empty(t, tickers)
}

func TestCycleReleasesLock(t *testing.T) {
	h := newHarness(t, nil, memPrices{})
	locker := &fakeLocker{}
	h.cycle.WithLocker(locker)

	_, err := h.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestCycleLockErrorFailsRun(t *testing.T) {
	h := newHarness(t, nil, memPrices{})
	h.cycle.WithLocker(&fakeLocker{err: errors.New("connection refused")})

	_, err := h.cycle.Run(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsInvariant(err))
	assert.Len(t, h.sender.sent, 1)
}

// seedDuplicate stores two pending records for ticker behind the lifecycle's
// back, which the post-stage check must catch.
func seedDuplicate(t *testing.T, lc *service.Lifecycle, ticker string) {
	t.Helper()
	ctx := context.Background()
	_, err := lc.Positions().Create(ctx, domain.Position{Ticker: ticker, Status: domain.PositionStatusScreened})
	require.NoError(t, err)
	_, err = lc.Positions().Create(ctx, domain.Position{Ticker: ticker, Status: domain.PositionStatusOptimized})
	require.NoError(t, err)
}

func TestCycleStopsOnInvariant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"AAA"}, memPrices{"AAA": rising("AAA", 60, 1e6)})
	seedDuplicate(t, h.lc, "AAA")
	rule := domain.ErrActivePositionExists.Error()
	before := testutil.ToFloat64(metrics.InvariantViolations.WithLabelValues(rule))

	report, err := h.cycle.Run(ctx)
	require.Error(t, err)
	var ie *domain.InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "AAA", ie.Ticker)
	assert.ErrorIs(t, err, domain.ErrActivePositionExists)
	assert.Equal(t, StageScreen, report.Stage)
	assert.Zero(t, report.Dispatched)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.InvariantViolations.WithLabelValues(rule)))

	require.Len(t, h.sender.sent, 1)
	assert.True(t, strings.HasPrefix(h.sender.sent[0], "Invariant violated|ticker: AAA"))

	last := h.cycle.Last()
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "more than one active position for AAA")
}

func TestRunLoopEndsOnInvariant(t *testing.T) {
	h := newHarness(t, []string{"AAA"}, memPrices{"AAA": rising("AAA", 60, 1e6)})
	seedDuplicate(t, h.lc, "AAA")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.cycle.RunLoop(ctx, time.Hour)
	assert.True(t, domain.IsInvariant(err))
}

func TestRunLoopHonoursTriggerAndCancel(t *testing.T) {
	h := newHarness(t, nil, memPrices{})
	locker := &fakeLocker{}
	h.cycle.WithLocker(locker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.cycle.RunLoop(ctx, time.Hour) }()

	count := func() int {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return len(locker.keys)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.cycle.Trigger() }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return count() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestTriggerIsCoalesced(t *testing.T) {
	h := newHarness(t, nil, memPrices{})
	assert.True(t, h.cycle.Trigger())
	assert.False(t, h.cycle.Trigger())
}
