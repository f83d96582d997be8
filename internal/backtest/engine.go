// Package backtest replays strategy signals over a bar series with ATR
// brackets and reports performance statistics.
package backtest

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecycle/internal/bracket"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/indicator"
)

const (
	tradingDaysPerYear = 252
	maxProfitFactor    = 1000
)

// Exit reasons recorded on trades.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitReverse    = "reverse"
	ExitEndOfData  = "end_of_data"
)

// Config fixes the simulation inputs shared by every run of an engine.
type Config struct {
	Cash        float64
	ATRWindow   int
	Multipliers bracket.Multipliers
	// Commission is charged as a fraction of notional on entry and exit.
	Commission float64
}

// Trade is one simulated round trip.
type Trade struct {
	Direction  domain.Direction
	EntryIndex int
	ExitIndex  int
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64
	Reason     string
}

// Stats summarises a run.
type Stats struct {
	StartingCash   float64
	FinalEquity    float64
	TotalReturn    float64
	NumberOfTrades int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	MaxDrawdown    float64
	Sharpe         float64
	ProfitFactor   float64
	Trades         []Trade
}

// Engine runs backtests. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Cash <= 0 {
		return nil, fmt.Errorf("backtest: cash must be positive, got %v", cfg.Cash)
	}
	if cfg.ATRWindow <= 0 {
		return nil, fmt.Errorf("backtest: atr window must be positive, got %d", cfg.ATRWindow)
	}
	if cfg.Multipliers.StopLoss <= 0 || cfg.Multipliers.TakeProfit <= 0 {
		return nil, fmt.Errorf("backtest: bracket multipliers must be positive")
	}
	if cfg.Commission < 0 {
		return nil, fmt.Errorf("backtest: commission must not be negative")
	}
	return &Engine{cfg: cfg}, nil
}

type openTrade struct {
	Trade
	stopLoss   float64
	takeProfit float64
}

// Run simulates signals over series. Entries fill at the signalling bar's
// close; exits are checked from the next bar on, stop-loss before
// take-profit when both are touched in one bar.
func (e *Engine) Run(series []domain.Bar, signals []int) (Stats, error) {
	if len(series) != len(signals) {
		return Stats{}, fmt.Errorf("backtest: %d bars but %d signals", len(series), len(signals))
	}
	if len(series) <= e.cfg.ATRWindow {
		return Stats{}, fmt.Errorf("backtest: need more than %d bars, have %d: %w",
			e.cfg.ATRWindow, len(series), domain.ErrInsufficientData)
	}

	atr := indicator.ATR(series, e.cfg.ATRWindow)
	cash := e.cfg.Cash
	var pos *openTrade
	var trades []Trade
	equity := make([]float64, len(series))

	closeAt := func(i int, price float64, reason string) {
		t := pos.Trade
		t.ExitIndex = i
		t.ExitPrice = price
		t.Reason = reason
		gross := float64(t.Direction) * (price - t.EntryPrice) * t.Qty
		fee := e.cfg.Commission * price * t.Qty
		t.PnL = gross - fee - e.cfg.Commission*t.EntryPrice*t.Qty
		cash += t.EntryPrice*t.Qty + gross - fee
		trades = append(trades, t)
		pos = nil
	}

	for i, b := range series {
		if pos != nil && i > pos.EntryIndex {
			if price, reason, hit := exitHit(pos, b); hit {
				closeAt(i, price, reason)
			}
		}

		if sig := signals[i]; sig != 0 && !math.IsNaN(atr[i]) && atr[i] > 0 {
			dir := domain.DirectionLong
			if sig < 0 {
				dir = domain.DirectionShort
			}
			if pos != nil && pos.Direction != dir {
				closeAt(i, b.Close, ExitReverse)
			}
			if pos == nil {
				levels, err := bracket.Compute(b.Close, atr[i], e.cfg.Multipliers)
				if err != nil {
					return Stats{}, fmt.Errorf("backtest: bar %d: %w", i, err)
				}
				br, err := levels.For(dir)
				if err != nil {
					return Stats{}, err
				}
				qty := cash / (b.Close * (1 + e.cfg.Commission))
				cash -= b.Close*qty + e.cfg.Commission*b.Close*qty
				pos = &openTrade{
					Trade:      Trade{Direction: dir, EntryIndex: i, EntryPrice: b.Close, Qty: qty},
					stopLoss:   br.StopLoss,
					takeProfit: br.TakeProfit,
				}
			}
		}

		equity[i] = cash
		if pos != nil {
			equity[i] += pos.EntryPrice*pos.Qty + float64(pos.Direction)*(b.Close-pos.EntryPrice)*pos.Qty
		}
	}

	if pos != nil {
		last := len(series) - 1
		closeAt(last, series[last].Close, ExitEndOfData)
		equity[last] = cash
	}

	return summarise(e.cfg.Cash, equity, trades), nil
}

func exitHit(pos *openTrade, b domain.Bar) (float64, string, bool) {
	if pos.Direction == domain.DirectionLong {
		if b.Low <= pos.stopLoss {
			return pos.stopLoss, ExitStopLoss, true
		}
		if b.High >= pos.takeProfit {
			return pos.takeProfit, ExitTakeProfit, true
		}
		return 0, "", false
	}
	if b.High >= pos.stopLoss {
		return pos.stopLoss, ExitStopLoss, true
	}
	if b.Low <= pos.takeProfit {
		return pos.takeProfit, ExitTakeProfit, true
	}
	return 0, "", false
}

func summarise(start float64, equity []float64, trades []Trade) Stats {
	s := Stats{StartingCash: start, Trades: trades, NumberOfTrades: len(trades)}
	s.FinalEquity = equity[len(equity)-1]
	s.TotalReturn = (s.FinalEquity - start) / start

	var grossProfit, grossLoss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			s.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			s.LosingTrades++
			grossLoss -= t.PnL
		}
	}
	if len(trades) > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(len(trades))
	}
	switch {
	case grossLoss > 0:
		s.ProfitFactor = math.Min(grossProfit/grossLoss, maxProfitFactor)
	case grossProfit > 0:
		s.ProfitFactor = maxProfitFactor
	}

	peak := start
	returns := make([]float64, 0, len(equity))
	prev := start
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if dd := (peak - eq) / peak; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
		if prev > 0 {
			returns = append(returns, eq/prev-1)
		}
		prev = eq
	}
	s.Sharpe = sharpe(returns)
	return s
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(variance / float64(len(returns)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDaysPerYear)
}
