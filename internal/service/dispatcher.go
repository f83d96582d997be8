package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradecycle/internal/bracket"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/indicator"
	"github.com/alanyoungcy/tradecycle/internal/strategy"
)

// Publisher delivers events to in-process subscribers.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// DispatcherConfig controls signal generation and bracket sizing.
type DispatcherConfig struct {
	Window      int
	ATRWindow   int
	Multipliers bracket.Multipliers
	// AdjustOpen re-dispatches OPEN positions each cycle so their brackets
	// follow the latest ATR.
	AdjustOpen bool
}

// DispatchResult describes what Dispatch did for a ticker.
type DispatchResult struct {
	Ticker     string
	Position   domain.Position
	Adjustment bool
	Signal     domain.Signal
}

// Dispatcher turns an optimized parameter set into a concrete bracket and
// moves the ticker to DISPATCHED.
type Dispatcher struct {
	lc         *Lifecycle
	prices     domain.PriceProvider
	strategies *strategy.Catalogue
	bus        Publisher
	cfg        DispatcherConfig
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	lc *Lifecycle,
	prices domain.PriceProvider,
	strategies *strategy.Catalogue,
	bus Publisher,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		lc:         lc,
		prices:     prices,
		strategies: strategies,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch generates the bracket for ticker. A ticker that already has a
// DISPATCHED record, or has neither an OPTIMIZED nor an OPEN one, is an
// invariant violation. When an OPEN position exists the bracket is written
// to an adjustment record linked to it.
func (d *Dispatcher) Dispatch(ctx context.Context, ticker string) (DispatchResult, error) {
	dispatched, err := d.lc.Find(ctx, ticker, domain.PositionStatusDispatched)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatcher: read %s: %w", ticker, err)
	}
	if dispatched != nil {
		return DispatchResult{}, domain.NewInvariantError(domain.ErrDispatchedPositionAlreadyExists, ticker, dispatched.Status)
	}
	optimized, err := d.lc.Find(ctx, ticker, domain.PositionStatusOptimized)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatcher: read %s: %w", ticker, err)
	}
	open, err := d.lc.Find(ctx, ticker, domain.PositionStatusOpen)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatcher: read %s: %w", ticker, err)
	}
	if optimized == nil && open == nil {
		return DispatchResult{}, domain.NewInvariantError(domain.ErrNeitherOpenNorOptimizedPositionExists, ticker, "")
	}

	source := optimized
	if source == nil {
		source = open
	}
	if source.Parameters == nil {
		return DispatchResult{}, fmt.Errorf("dispatcher: %s position %s has no parameters: %w", source.Status, source.ID, domain.ErrNotFound)
	}

	br, err := d.bracketFor(ctx, ticker, *source.Parameters)
	if err != nil {
		return DispatchResult{}, err
	}
	patch := domain.PositionPatch{
		StrategyName:     domain.Ptr(source.Parameters.Strategy),
		Direction:        domain.Ptr(br.Direction),
		TargetEntryPrice: domain.Ptr(br.Entry),
		StopLoss:         domain.Ptr(br.StopLoss),
		TakeProfit:       domain.Ptr(br.TakeProfit),
	}

	res := DispatchResult{Ticker: ticker, Signal: domain.Signal{Ticker: ticker, DispatchedPosition: true}}
	switch {
	case open == nil:
		res.Position, err = d.lc.Transition(ctx, *optimized, domain.PositionStatusDispatched, patch)
	case optimized != nil:
		// narrow policy: a ticker can be re-optimized while OPEN, and the
		// new record becomes the adjustment
		patch.ParentID = domain.Ptr(open.ID)
		res.Position, err = d.lc.Transition(ctx, *optimized, domain.PositionStatusDispatched, patch)
		res.Adjustment = true
	default:
		res.Position, err = d.lc.Create(ctx, domain.Position{
			Ticker:           ticker,
			Status:           domain.PositionStatusDispatched,
			Parameters:       open.Parameters,
			StrategyName:     open.Parameters.Strategy,
			Direction:        br.Direction,
			TargetEntryPrice: br.Entry,
			StopLoss:         br.StopLoss,
			TakeProfit:       br.TakeProfit,
			ParentID:         open.ID,
		})
		res.Adjustment = true
	}
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return DispatchResult{}, domain.NewInvariantError(domain.ErrDispatchedPositionAlreadyExists, ticker, domain.PositionStatusDispatched)
		}
		return DispatchResult{}, fmt.Errorf("dispatcher: store %s: %w", ticker, err)
	}
	res.Signal.OpenPosition = res.Adjustment

	d.logger.InfoContext(ctx, "position dispatched",
		slog.String("ticker", ticker),
		slog.String("position_id", res.Position.ID),
		slog.String("strategy", res.Position.StrategyName),
		slog.String("direction", br.Direction.String()),
		slog.Float64("entry", br.Entry),
		slog.Float64("stop_loss", br.StopLoss),
		slog.Float64("take_profit", br.TakeProfit),
		slog.Bool("adjustment", res.Adjustment),
	)

	if err := d.bus.Publish(ctx, domain.EventPositionSignal, res.Signal); err != nil {
		return res, fmt.Errorf("dispatcher: publish %s: %w", ticker, err)
	}
	return res, nil
}

func (d *Dispatcher) bracketFor(ctx context.Context, ticker string, params domain.StrategyParameters) (bracket.Bracket, error) {
	strat, err := d.strategies.Get(params.Strategy)
	if err != nil {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: %s: %w", ticker, err)
	}
	series, err := d.prices.GetPriceSeries(ctx, ticker, d.cfg.Window)
	if err != nil {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: load %s: %w", ticker, err)
	}
	signals, err := strat.ModelTradingSignals(series, params.Values)
	if err != nil {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: signals %s: %w", ticker, err)
	}
	dir, err := strategy.LastSignal(signals)
	if err != nil {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: %s: %w", ticker, err)
	}
	atr, err := indicator.LastATR(series, d.cfg.ATRWindow)
	if err != nil {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: %s: %w", ticker, err)
	}
	// a flat series would put stop, target and entry on one price
	if atr <= 0 {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: %s: zero atr over %d bars: %w", ticker, d.cfg.ATRWindow, domain.ErrInsufficientData)
	}
	levels, err := bracket.Compute(series[len(series)-1].Close, atr, d.cfg.Multipliers)
	if err != nil {
		return bracket.Bracket{}, fmt.Errorf("dispatcher: %s: %w", ticker, err)
	}
	return levels.For(dir)
}

// DispatchSignals dispatches every ticker holding an OPTIMIZED position, and
// every OPEN one when adjustments are enabled. Invariant violations stop the
// pass; other per-ticker errors are logged and skipped. A ticker whose record
// was stored before its signal handler failed is still reported.
func (d *Dispatcher) DispatchSignals(ctx context.Context) ([]DispatchResult, error) {
	statuses := []domain.PositionStatus{domain.PositionStatusOptimized}
	if d.cfg.AdjustOpen {
		statuses = append(statuses, domain.PositionStatusOpen)
	}
	tickers, err := d.lc.Tickers(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: list tickers: %w", err)
	}

	var out []DispatchResult
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := d.Dispatch(ctx, ticker)
		if err != nil && res.Position.ID != "" {
			// stored as DISPATCHED even though a handler failed
			out = append(out, res)
		}
		switch {
		case err == nil:
			out = append(out, res)
		case domain.IsInvariant(err):
			return out, err
		case errors.Is(err, domain.ErrNoSignal):
			d.logger.InfoContext(ctx, "no signal", slog.String("ticker", ticker))
		default:
			d.logger.WarnContext(ctx, "dispatch failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
		}
	}
	return out, nil
}
