package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Action records what the order manager did to a ticker.
type Action string

const (
	ActionNone      Action = "none"
	ActionSubmitted Action = "submitted"
	ActionOpened    Action = "opened"
	ActionCancelled Action = "cancelled"
	ActionClosed    Action = "closed"
	ActionAdjusted  Action = "adjusted"
	// ActionExitsAttached retries exit orders that failed to attach when the
	// position opened.
	ActionExitsAttached Action = "exits_attached"
)

// OrderManagerConfig controls sizing and order expiry.
type OrderManagerConfig struct {
	// Allocation is the fraction of buying power committed per position.
	Allocation float64
	// QtyStep is the order quantity increment; 1 means whole units.
	QtyStep float64
	// MaxPending cancels entry orders that stay unfilled this long. Zero
	// disables the timeout.
	MaxPending time.Duration
}

// ReconcileReport counts the actions of one Reconcile pass.
type ReconcileReport struct {
	Actions map[Action]int
	Failed  int
}

// OrderManager submits dispatched brackets to the broker and keeps the
// position store in step with the broker account.
type OrderManager struct {
	lc     *Lifecycle
	broker domain.Broker
	prices domain.PriceProvider
	cfg    OrderManagerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewOrderManager creates an OrderManager.
func NewOrderManager(lc *Lifecycle, broker domain.Broker, prices domain.PriceProvider, cfg OrderManagerConfig, logger *slog.Logger) *OrderManager {
	if cfg.Allocation <= 0 {
		cfg.Allocation = 1
	}
	if cfg.QtyStep <= 0 {
		cfg.QtyStep = 1
	}
	return &OrderManager{
		lc:     lc,
		broker: broker,
		prices: prices,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "order_manager")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleSignal is the event bus handler for domain.EventPositionSignal.
func (m *OrderManager) HandleSignal(ctx context.Context, payload any) error {
	var sig domain.Signal
	switch v := payload.(type) {
	case domain.Signal:
		sig = v
	case *domain.Signal:
		sig = *v
	default:
		return fmt.Errorf("order_manager: unexpected payload %T", payload)
	}

	var err error
	switch {
	case sig.OpenPosition && sig.DispatchedPosition:
		_, err = m.HandleOpenDispatchedPosition(ctx, sig.Ticker)
	case sig.DispatchedPosition:
		_, err = m.HandleDispatchedPosition(ctx, sig.Ticker)
	case sig.OpenPosition:
		_, err = m.ReconcileOpen(ctx, sig.Ticker)
	}
	return err
}

// HandleDispatchedPosition sizes the ticker's DISPATCHED bracket from the
// account's buying power and submits it. A record that already carries a
// broker order id is left alone.
func (m *OrderManager) HandleDispatchedPosition(ctx context.Context, ticker string) (Action, error) {
	acct, err := m.broker.GetAccount(ctx)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: get account: %w", err)
	}
	open, err := m.lc.Find(ctx, ticker, domain.PositionStatusOpen)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", ticker, err)
	}
	if open != nil {
		return ActionNone, domain.NewInvariantError(domain.ErrOpenPositionAlreadyExists, ticker, open.Status)
	}
	disp, err := m.lc.Find(ctx, ticker, domain.PositionStatusDispatched)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", ticker, err)
	}
	if disp == nil {
		return ActionNone, domain.NewInvariantError(domain.ErrDispatchedPositionDoesNotExist, ticker, "")
	}
	if disp.BrokerOrderID != "" {
		return ActionNone, nil
	}

	qty := m.size(acct.BuyingPower, disp.TargetEntryPrice)
	if qty <= 0 {
		return ActionNone, fmt.Errorf("order_manager: size %s at %.4f with buying power %.2f: %w",
			ticker, disp.TargetEntryPrice, acct.BuyingPower, domain.ErrInsufficientBuyingPower)
	}

	handle, err := m.broker.SubmitBracketOrder(ctx, domain.BracketOrder{
		ClientID:   disp.ID,
		Ticker:     ticker,
		Direction:  disp.Direction,
		EntryPrice: disp.TargetEntryPrice,
		StopLoss:   disp.StopLoss,
		TakeProfit: disp.TakeProfit,
		Qty:        qty,
	})
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: submit %s: %w", ticker, err)
	}
	if _, err := m.lc.Transition(ctx, *disp, disp.Status, domain.PositionPatch{
		BrokerOrderID: domain.Ptr(handle.ID),
	}); err != nil {
		return ActionNone, fmt.Errorf("order_manager: record order %s for %s: %w", handle.ID, ticker, err)
	}

	m.logger.InfoContext(ctx, "bracket submitted",
		slog.String("ticker", ticker),
		slog.String("order_id", handle.ID),
		slog.String("direction", disp.Direction.String()),
		slog.Float64("qty", qty),
		slog.Float64("entry", disp.TargetEntryPrice),
	)
	return ActionSubmitted, nil
}

// size floors allocation*buyingPower/price to the quantity step.
func (m *OrderManager) size(buyingPower, price float64) float64 {
	if price <= 0 || buyingPower <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(m.cfg.QtyStep)
	raw := decimal.NewFromFloat(buyingPower).
		Mul(decimal.NewFromFloat(m.cfg.Allocation)).
		Div(decimal.NewFromFloat(price))
	return raw.Div(step).Floor().Mul(step).InexactFloat64()
}

// ReconcileDispatched checks the broker order behind the ticker's DISPATCHED
// record: a fill opens the position, a dead order cancels it and an order
// pending past the configured limit is cancelled at the broker. A dead or
// stale order that filled in part opens the position with the filled
// quantity.
func (m *OrderManager) ReconcileDispatched(ctx context.Context, ticker string) (Action, error) {
	disp, err := m.lc.Find(ctx, ticker, domain.PositionStatusDispatched)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", ticker, err)
	}
	if disp == nil {
		return ActionNone, domain.NewInvariantError(domain.ErrDispatchedPositionDoesNotExist, ticker, "")
	}
	if disp.IsAdjustment() {
		return m.HandleOpenDispatchedPosition(ctx, ticker)
	}
	if disp.BrokerOrderID == "" {
		return m.HandleDispatchedPosition(ctx, ticker)
	}

	order, err := m.broker.GetOrder(ctx, disp.BrokerOrderID)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: get order %s: %w", disp.BrokerOrderID, err)
	}

	switch {
	case order.State == domain.OrderStateFilled:
		return m.open(ctx, *disp, order)
	case order.State.IsDead() && order.FilledQty > 0:
		m.logger.InfoContext(ctx, "partial entry kept",
			slog.String("ticker", ticker),
			slog.String("order_id", order.ID),
			slog.String("state", string(order.State)),
			slog.Float64("filled_qty", order.FilledQty),
		)
		return m.open(ctx, *disp, order)
	case order.State.IsDead():
		if _, err := m.lc.Cancel(ctx, *disp, "broker order "+string(order.State)); err != nil {
			return ActionNone, fmt.Errorf("order_manager: cancel %s: %w", ticker, err)
		}
		return ActionCancelled, nil
	case m.cfg.MaxPending > 0 && m.now().Sub(order.SubmittedAt) > m.cfg.MaxPending:
		if err := m.broker.CancelOrder(ctx, order.ID); err != nil {
			return ActionNone, fmt.Errorf("order_manager: cancel order %s: %w", order.ID, err)
		}
		// the entry may have filled further before the cancel landed
		if order, err = m.broker.GetOrder(ctx, order.ID); err != nil {
			return ActionNone, fmt.Errorf("order_manager: get order %s: %w", disp.BrokerOrderID, err)
		}
		if order.FilledQty > 0 {
			m.logger.InfoContext(ctx, "stale entry cancelled, partial fill kept",
				slog.String("ticker", ticker),
				slog.String("order_id", order.ID),
				slog.Float64("filled_qty", order.FilledQty),
			)
			return m.open(ctx, *disp, order)
		}
		if _, err := m.lc.Cancel(ctx, *disp, "entry not filled"); err != nil {
			return ActionNone, fmt.Errorf("order_manager: cancel %s: %w", ticker, err)
		}
		m.logger.InfoContext(ctx, "stale entry cancelled",
			slog.String("ticker", ticker),
			slog.String("order_id", order.ID),
			slog.Duration("pending", m.now().Sub(order.SubmittedAt)),
		)
		return ActionCancelled, nil
	default:
		return ActionNone, nil
	}
}

func (m *OrderManager) open(ctx context.Context, disp domain.Position, order domain.BrokerOrder) (Action, error) {
	existing, err := m.lc.Find(ctx, disp.Ticker, domain.PositionStatusOpen)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", disp.Ticker, err)
	}
	if existing != nil {
		return ActionNone, domain.NewInvariantError(domain.ErrOpenPositionAlreadyExists, disp.Ticker, existing.Status)
	}

	filledAt := m.now()
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}
	cash := decimal.NewFromFloat(order.FilledAvgPrice).Mul(decimal.NewFromFloat(order.FilledQty))
	pos, err := m.lc.Transition(ctx, disp, domain.PositionStatusOpen, domain.PositionPatch{
		EntryPrice: domain.Ptr(order.FilledAvgPrice),
		EntryDate:  &filledAt,
		UnitSize:   domain.Ptr(order.FilledQty),
		CashSize:   domain.Ptr(cash.InexactFloat64()),
	})
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: open %s: %w", disp.Ticker, err)
	}
	m.logger.InfoContext(ctx, "position opened",
		slog.String("ticker", pos.Ticker),
		slog.String("position_id", pos.ID),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("unit_size", pos.UnitSize),
	)

	if err := m.attachExits(ctx, pos); err != nil {
		return ActionOpened, err
	}
	return ActionOpened, nil
}

// attachExits places the exits of an OPEN position at brokers that take them
// separately, then marks the record so ReconcileOpen stops retrying.
func (m *OrderManager) attachExits(ctx context.Context, pos domain.Position) error {
	attacher, ok := m.broker.(domain.ExitAttacher)
	if !ok {
		return nil
	}
	if err := attacher.AttachExits(ctx, pos.Ticker, pos.Direction, pos.UnitSize, pos.StopLoss, pos.TakeProfit); err != nil {
		return fmt.Errorf("order_manager: attach exits %s: %w", pos.Ticker, err)
	}
	if _, err := m.lc.Transition(ctx, pos, pos.Status, domain.PositionPatch{
		ExitsAttached: domain.Ptr(true),
	}); err != nil {
		return fmt.Errorf("order_manager: record exits %s: %w", pos.Ticker, err)
	}
	return nil
}

// ReconcileOpen closes the ticker's OPEN record once the broker no longer
// holds the position. While it is held, exits that never attached are placed
// again.
func (m *OrderManager) ReconcileOpen(ctx context.Context, ticker string) (Action, error) {
	open, err := m.lc.Find(ctx, ticker, domain.PositionStatusOpen)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", ticker, err)
	}
	if open == nil {
		return ActionNone, domain.NewInvariantError(domain.ErrOpenPositionDoesNotExist, ticker, "")
	}
	held, err := m.broker.GetOpenPosition(ctx, ticker)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: get broker position %s: %w", ticker, err)
	}
	if held != nil {
		if _, ok := m.broker.(domain.ExitAttacher); !ok || open.ExitsAttached {
			return ActionNone, nil
		}
		if err := m.attachExits(ctx, *open); err != nil {
			return ActionNone, err
		}
		m.logger.InfoContext(ctx, "exits attached",
			slog.String("ticker", ticker),
			slog.String("position_id", open.ID),
		)
		return ActionExitsAttached, nil
	}
	if err := m.close(ctx, *open); err != nil {
		return ActionNone, err
	}
	return ActionClosed, nil
}

func (m *OrderManager) close(ctx context.Context, open domain.Position) error {
	fill, err := m.exitFill(ctx, open.Ticker)
	if err != nil {
		return err
	}

	entry := decimal.NewFromFloat(open.EntryPrice)
	move := decimal.NewFromFloat(fill.Price).Sub(entry).Mul(decimal.NewFromInt(int64(open.Direction)))
	pnl := move.Mul(decimal.NewFromFloat(open.UnitSize))
	var ret decimal.Decimal
	if !entry.IsZero() {
		ret = move.Div(entry)
	}

	pos, err := m.lc.Transition(ctx, open, domain.PositionStatusClosed, domain.PositionPatch{
		ExitPrice: domain.Ptr(fill.Price),
		ExitDate:  &fill.Time,
		ReturnPct: domain.Ptr(ret.InexactFloat64()),
		PnL:       domain.Ptr(pnl.InexactFloat64()),
	})
	if err != nil {
		return fmt.Errorf("order_manager: close %s: %w", open.Ticker, err)
	}
	m.logger.InfoContext(ctx, "position closed",
		slog.String("ticker", pos.Ticker),
		slog.String("position_id", pos.ID),
		slog.Float64("exit_price", pos.ExitPrice),
		slog.Float64("return_pct", pos.ReturnPct),
		slog.Float64("pnl", pos.PnL),
	)
	return nil
}

// exitFill asks the broker how the position was closed and falls back to
// the latest close.
func (m *OrderManager) exitFill(ctx context.Context, ticker string) (domain.Fill, error) {
	if reporter, ok := m.broker.(domain.ExitReporter); ok {
		fill, err := reporter.LastExit(ctx, ticker)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("order_manager: last exit %s: %w", ticker, err)
		}
		if fill != nil {
			return *fill, nil
		}
	}
	bars, err := m.prices.GetPriceSeries(ctx, ticker, 1)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("order_manager: latest price %s: %w", ticker, err)
	}
	last := bars[len(bars)-1]
	return domain.Fill{Price: last.Close, Time: m.now()}, nil
}

// HandleOpenDispatchedPosition applies an adjustment record to the ticker's
// OPEN position. Both records must exist. If the broker no longer holds the
// position the OPEN record is closed instead.
func (m *OrderManager) HandleOpenDispatchedPosition(ctx context.Context, ticker string) (Action, error) {
	open, err := m.lc.Find(ctx, ticker, domain.PositionStatusOpen)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", ticker, err)
	}
	if open == nil {
		return ActionNone, domain.NewInvariantError(domain.ErrOpenPositionDoesNotExist, ticker, "")
	}
	adj, err := m.lc.Find(ctx, ticker, domain.PositionStatusDispatched)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: read %s: %w", ticker, err)
	}
	if adj == nil {
		return ActionNone, domain.NewInvariantError(domain.ErrDispatchedPositionDoesNotExist, ticker, "")
	}
	if adj.ParentID != open.ID {
		// a primary DISPATCHED next to an OPEN one
		return ActionNone, domain.NewInvariantError(domain.ErrOpenPositionAlreadyExists, ticker, domain.PositionStatusDispatched)
	}

	held, err := m.broker.GetOpenPosition(ctx, ticker)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: get broker position %s: %w", ticker, err)
	}
	if held == nil {
		if err := m.close(ctx, *open); err != nil {
			return ActionNone, err
		}
		if _, err := m.lc.Cancel(ctx, *adj, "position closed"); err != nil {
			return ActionClosed, fmt.Errorf("order_manager: cancel adjustment %s: %w", ticker, err)
		}
		return ActionClosed, nil
	}

	patch := domain.PositionPatch{
		StopLoss:   domain.Ptr(adj.StopLoss),
		TakeProfit: domain.Ptr(adj.TakeProfit),
	}
	if _, ok := m.broker.(domain.ExitAttacher); ok {
		// the new levels still need placing
		patch.ExitsAttached = domain.Ptr(false)
	}
	updated, err := m.lc.Transition(ctx, *open, open.Status, patch)
	if err != nil {
		return ActionNone, fmt.Errorf("order_manager: adjust %s: %w", ticker, err)
	}
	if _, err := m.lc.Cancel(ctx, *adj, "applied"); err != nil {
		return ActionNone, fmt.Errorf("order_manager: cancel adjustment %s: %w", ticker, err)
	}
	m.logger.InfoContext(ctx, "bracket adjusted",
		slog.String("ticker", ticker),
		slog.Float64("stop_loss", updated.StopLoss),
		slog.Float64("take_profit", updated.TakeProfit),
	)
	if err := m.attachExits(ctx, updated); err != nil {
		return ActionAdjusted, err
	}
	return ActionAdjusted, nil
}

// Reconcile runs ReconcileDispatched for every DISPATCHED ticker, then
// ReconcileOpen for every OPEN one. Invariant violations stop the pass;
// other errors are logged and counted.
func (m *OrderManager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{Actions: make(map[Action]int)}

	run := func(status domain.PositionStatus, fn func(context.Context, string) (Action, error)) error {
		tickers, err := m.lc.Tickers(ctx, status)
		if err != nil {
			return fmt.Errorf("order_manager: list %s: %w", status, err)
		}
		for _, ticker := range tickers {
			if err := ctx.Err(); err != nil {
				return err
			}
			action, err := fn(ctx, ticker)
			if err != nil {
				if domain.IsInvariant(err) {
					return err
				}
				report.Failed++
				m.logger.WarnContext(ctx, "reconcile failed",
					slog.String("ticker", ticker),
					slog.String("status", string(status)),
					slog.String("error", err.Error()),
				)
			}
			if action != ActionNone && action != "" {
				report.Actions[action]++
			}
		}
		return nil
	}

	if err := run(domain.PositionStatusDispatched, m.ReconcileDispatched); err != nil {
		return report, err
	}
	if err := run(domain.PositionStatusOpen, m.ReconcileOpen); err != nil {
		return report, err
	}
	return report, nil
}
