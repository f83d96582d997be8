// Package paper is a simulated broker. Orders and exits are evaluated
// against the latest end-of-day bar from a price provider.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

type order struct {
	domain.BrokerOrder
	req domain.BracketOrder
}

type holding struct {
	domain.BrokerPosition
	stopLoss   float64
	takeProfit float64
	// exits are only checked on bars after the fill bar
	fillBar time.Time
}

// Broker simulates an account holding cash and bracket positions.
type Broker struct {
	mu       sync.Mutex
	prices   domain.PriceProvider
	cash     float64
	orders   map[string]*order
	holdings map[string]*holding
	exits    map[string]domain.Fill
	state    StateStore
	now      func() time.Time
}

var (
	_ domain.Broker       = (*Broker)(nil)
	_ domain.ExitAttacher = (*Broker)(nil)
	_ domain.ExitReporter = (*Broker)(nil)
)

// New returns an in-memory paper broker funded with cash. Use Open to keep
// the account across runs.
func New(prices domain.PriceProvider, cash float64) *Broker {
	return &Broker{
		prices:   prices,
		cash:     cash,
		orders:   make(map[string]*order),
		holdings: make(map[string]*holding),
		exits:    make(map[string]domain.Fill),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (b *Broker) lastBar(ctx context.Context, ticker string) (domain.Bar, error) {
	bars, err := b.prices.GetPriceSeries(ctx, ticker, 1)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("paper: price for %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return domain.Bar{}, fmt.Errorf("paper: price for %s: %w", ticker, domain.ErrInsufficientData)
	}
	return bars[len(bars)-1], nil
}

// GetAccount values holdings at their latest close.
func (b *Broker) GetAccount(ctx context.Context) (domain.AccountState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for ticker, h := range b.holdings {
		bar, err := b.lastBar(ctx, ticker)
		if err != nil {
			return domain.AccountState{}, err
		}
		equity += h.Qty*h.AvgEntryPrice + float64(h.Direction)*(bar.Close-h.AvgEntryPrice)*h.Qty
	}
	return domain.AccountState{Equity: equity, Cash: b.cash, BuyingPower: b.cash}, nil
}

// SubmitBracketOrder reserves cash and queues the order.
func (b *Broker) SubmitBracketOrder(ctx context.Context, req domain.BracketOrder) (domain.OrderHandle, error) {
	if req.Qty <= 0 || req.EntryPrice <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("paper: invalid order for %s: qty=%v entry=%v", req.Ticker, req.Qty, req.EntryPrice)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cost := req.Qty * req.EntryPrice
	if cost > b.cash {
		return domain.OrderHandle{}, fmt.Errorf("paper: order for %s costs %.2f, cash %.2f: %w", req.Ticker, cost, b.cash, domain.ErrInsufficientBuyingPower)
	}
	b.cash -= cost

	now := b.now()
	id := uuid.NewString()
	b.orders[id] = &order{
		BrokerOrder: domain.BrokerOrder{ID: id, Ticker: req.Ticker, State: domain.OrderStateNew, SubmittedAt: now},
		req:         req,
	}
	if err := b.save(ctx); err != nil {
		delete(b.orders, id)
		b.cash += cost
		return domain.OrderHandle{}, err
	}
	return domain.OrderHandle{ID: id, SubmittedAt: now}, nil
}

// GetOrder fills a pending order when the latest bar trades through its
// limit. Marketable limits fill at the close.
func (b *Broker) GetOrder(ctx context.Context, id string) (domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return domain.BrokerOrder{}, fmt.Errorf("paper: order %s: %w", id, domain.ErrNotFound)
	}
	if o.State != domain.OrderStateNew {
		return o.BrokerOrder, nil
	}

	bar, err := b.lastBar(ctx, o.Ticker)
	if err != nil {
		return domain.BrokerOrder{}, err
	}
	price, filled := fillPrice(o.req, bar)
	if !filled {
		return o.BrokerOrder, nil
	}

	now := b.now()
	o.State = domain.OrderStateFilled
	o.FilledQty = o.req.Qty
	o.FilledAvgPrice = price
	o.FilledAt = &now
	// unused reservation returns to cash
	b.cash += (o.req.EntryPrice - price) * o.req.Qty
	b.holdings[o.Ticker] = &holding{
		BrokerPosition: domain.BrokerPosition{
			Ticker: o.Ticker, Qty: o.req.Qty, AvgEntryPrice: price, Direction: o.req.Direction,
		},
		stopLoss:   o.req.StopLoss,
		takeProfit: o.req.TakeProfit,
		fillBar:    bar.Time,
	}
	if err := b.save(ctx); err != nil {
		return domain.BrokerOrder{}, err
	}
	return o.BrokerOrder, nil
}

func fillPrice(req domain.BracketOrder, bar domain.Bar) (float64, bool) {
	if req.Direction == domain.DirectionLong {
		if bar.Low <= req.EntryPrice {
			return math.Min(req.EntryPrice, bar.Close), true
		}
		return 0, false
	}
	if bar.High >= req.EntryPrice {
		return math.Max(req.EntryPrice, bar.Close), true
	}
	return 0, false
}

// CancelOrder cancels a pending order and releases its cash.
func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("paper: order %s: %w", id, domain.ErrNotFound)
	}
	if o.State != domain.OrderStateNew {
		return fmt.Errorf("paper: order %s is %s", id, o.State)
	}
	o.State = domain.OrderStateCancelled
	b.cash += o.req.EntryPrice * o.req.Qty
	return b.save(ctx)
}

// GetOpenPosition applies any stop-loss or take-profit touched by the latest
// bar before reporting the holding.
func (b *Broker) GetOpenPosition(ctx context.Context, ticker string) (*domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.holdings[ticker]
	if !ok {
		return nil, nil
	}
	bar, err := b.lastBar(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if !bar.Time.After(h.fillBar) {
		pos := h.BrokerPosition
		return &pos, nil
	}
	if price, hit := exitPrice(h, bar); hit {
		b.cash += h.Qty*h.AvgEntryPrice + float64(h.Direction)*(price-h.AvgEntryPrice)*h.Qty
		b.exits[ticker] = domain.Fill{Price: price, Qty: h.Qty, Time: bar.Time}
		delete(b.holdings, ticker)
		return nil, b.save(ctx)
	}
	pos := h.BrokerPosition
	return &pos, nil
}

func exitPrice(h *holding, bar domain.Bar) (float64, bool) {
	if h.stopLoss <= 0 && h.takeProfit <= 0 {
		return 0, false
	}
	if h.Direction == domain.DirectionLong {
		if h.stopLoss > 0 && bar.Low <= h.stopLoss {
			return h.stopLoss, true
		}
		if h.takeProfit > 0 && bar.High >= h.takeProfit {
			return h.takeProfit, true
		}
		return 0, false
	}
	if h.stopLoss > 0 && bar.High >= h.stopLoss {
		return h.stopLoss, true
	}
	if h.takeProfit > 0 && bar.Low <= h.takeProfit {
		return h.takeProfit, true
	}
	return 0, false
}

// AttachExits replaces the exit levels of a held position.
func (b *Broker) AttachExits(ctx context.Context, ticker string, _ domain.Direction, _ float64, stopLoss, takeProfit float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.holdings[ticker]
	if !ok {
		return fmt.Errorf("paper: no holding in %s: %w", ticker, domain.ErrNotFound)
	}
	h.stopLoss, h.takeProfit = stopLoss, takeProfit
	return b.save(ctx)
}

// LastExit reports the most recent exit fill of ticker.
func (b *Broker) LastExit(_ context.Context, ticker string) (*domain.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.exits[ticker]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
