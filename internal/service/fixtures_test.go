package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/backtest"
	"github.com/alanyoungcy/tradecycle/internal/bracket"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/store/sqlite"
	"github.com/alanyoungcy/tradecycle/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type memPrices struct {
	mu   sync.Mutex
	bars map[string][]domain.Bar
}

func newMemPrices() *memPrices {
	return &memPrices{bars: make(map[string][]domain.Bar)}
}

func (m *memPrices) GetPriceSeries(_ context.Context, ticker string, window int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.bars[ticker]
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s: %w", ticker, domain.ErrInsufficientData)
	}
	if window > 0 && len(bars) > window {
		bars = bars[len(bars)-window:]
	}
	return append([]domain.Bar(nil), bars...), nil
}

func (m *memPrices) set(ticker string, bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[ticker] = bars
}

func (m *memPrices) addBar(ticker string, close, high, low float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.bars[ticker]
	m.bars[ticker] = append(bars, domain.Bar{
		Ticker: ticker, Time: day0.AddDate(0, 0, len(bars)),
		Open: close, High: high, Low: low, Close: close, Volume: 1e6,
	})
}

// rising returns n bars with closes 100, 101, ... and a one point range.
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

// entryAt signals once, at bar 10+x. Earlier entries on a rising series
// return more, so x=1 is the best point; y never changes the result.
type entryAt struct {
	name    string
	dir     int
	failX   int
	failAll bool
}

func (e entryAt) Name() string { return e.name }

func (e entryAt) DefaultSpace() []strategy.ParamRange {
	return []strategy.ParamRange{
		{Name: "x", Min: 1, Max: 3, Step: 1},
		{Name: "y", Min: 1, Max: 3, Step: 1},
	}
}

func (e entryAt) ModelTradingSignals(series []domain.Bar, params strategy.Params) ([]int, error) {
	x, err := params.Int("x")
	if err != nil {
		return nil, err
	}
	if e.failAll || x == e.failX {
		return nil, fmt.Errorf("entry_at: x=%d rejected", x)
	}
	out := make([]int, len(series))
	if i := 10 + x; i < len(out) {
		out[i] = e.dir
	}
	return out, nil
}

func newTestLifecycle(t *testing.T, policy domain.ActivePolicy) (*Lifecycle, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryDSN(strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	lc := NewLifecycle(sqlite.NewPositionStore(db), sqlite.NewAuditStore(db), policy, discardLogger())
	return lc, db
}

func testEngine(t *testing.T) *backtest.Engine {
	t.Helper()
	e, err := backtest.NewEngine(backtest.Config{
		Cash:        10000,
		ATRWindow:   5,
		Multipliers: bracket.Multipliers{StopLoss: 1, TakeProfit: 100},
	})
	require.NoError(t, err)
	return e
}

// seedOpen stores an OPEN position for ticker with the given parameters.
func seedOpen(t *testing.T, lc *Lifecycle, ticker string, params *domain.StrategyParameters, entry, units float64) domain.Position {
	t.Helper()
	ctx := context.Background()
	pos, err := lc.Create(ctx, domain.Position{
		Ticker:           ticker,
		Status:           domain.PositionStatusDispatched,
		Parameters:       params,
		Direction:        domain.DirectionLong,
		TargetEntryPrice: entry,
		BrokerOrderID:    "seed",
	})
	require.NoError(t, err)
	pos, err = lc.Transition(ctx, pos, domain.PositionStatusOpen, domain.PositionPatch{
		EntryPrice: domain.Ptr(entry),
		EntryDate:  domain.Ptr(day0),
		UnitSize:   domain.Ptr(units),
		CashSize:   domain.Ptr(entry * units),
	})
	require.NoError(t, err)
	return pos
}

type recordingBus struct {
	mu      sync.Mutex
	signals []domain.Signal
	next    func(ctx context.Context, payload any) error
}

func (b *recordingBus) Publish(ctx context.Context, _ string, payload any) error {
	b.mu.Lock()
	if sig, ok := payload.(domain.Signal); ok {
		b.signals = append(b.signals, sig)
	}
	b.mu.Unlock()
	if b.next != nil {
		return b.next(ctx, payload)
	}
	return nil
}
