// Package binance adapts a Binance spot account to domain.Broker. Entries are
// GTC limit buys; exits are attached as an OCO sell once the entry fills.
// Spot accounts cannot short.
package binance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Config holds account and symbol settings.
type Config struct {
	APIKey     string
	SecretKey  string
	BaseURL    string
	Testnet    bool
	QuoteAsset string
	// QtyPrecision and PricePrecision are decimal places used when
	// formatting order values.
	QtyPrecision   int32
	PricePrecision int32
	// StopLimitSlippage widens the stop-limit price below the stop trigger.
	StopLimitSlippage float64
	// DustQty is the base-asset balance below which the account is flat.
	DustQty float64
}

// Broker implements domain.Broker on Binance spot.
type Broker struct {
	client Client
	cfg    Config
}

var (
	_ domain.Broker       = (*Broker)(nil)
	_ domain.ExitAttacher = (*Broker)(nil)
	_ domain.ExitReporter = (*Broker)(nil)
)

// New creates a Broker using the live (or testnet) API.
func New(cfg Config) *Broker {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	c := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return NewWithClient(&realClient{client: c}, cfg)
}

// NewWithClient creates a Broker on an existing client.
func NewWithClient(c Client, cfg Config) *Broker {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.QtyPrecision == 0 {
		cfg.QtyPrecision = 6
	}
	if cfg.PricePrecision == 0 {
		cfg.PricePrecision = 2
	}
	return &Broker{client: c, cfg: cfg}
}

func (b *Broker) baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, b.cfg.QuoteAsset)
}

func (b *Broker) qty(v float64) string {
	return decimal.NewFromFloat(v).Truncate(b.cfg.QtyPrecision).String()
}

func (b *Broker) price(v float64) string {
	return decimal.NewFromFloat(v).Round(b.cfg.PricePrecision).String()
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

type balance struct {
	free   float64
	locked float64
}

func (b *Broker) balances(ctx context.Context) (map[string]balance, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: get account: %w", err)
	}
	out := make(map[string]balance, len(acct.Balances))
	for _, bal := range acct.Balances {
		out[bal.Asset] = balance{free: parseFloat(bal.Free), locked: parseFloat(bal.Locked)}
	}
	return out, nil
}

// GetAccount reports quote-asset balances. Equity excludes base assets,
// which would need prices to value.
func (b *Broker) GetAccount(ctx context.Context) (domain.AccountState, error) {
	bal, err := b.balances(ctx)
	if err != nil {
		return domain.AccountState{}, err
	}
	quote := bal[b.cfg.QuoteAsset]
	return domain.AccountState{
		Equity:      quote.free + quote.locked,
		Cash:        quote.free,
		BuyingPower: quote.free,
	}, nil
}

// GetOpenPosition treats a base-asset balance above dust as a long position.
func (b *Broker) GetOpenPosition(ctx context.Context, ticker string) (*domain.BrokerPosition, error) {
	bal, err := b.balances(ctx)
	if err != nil {
		return nil, err
	}
	base := bal[b.baseAsset(ticker)]
	qty := base.free + base.locked
	if qty <= b.cfg.DustQty {
		return nil, nil
	}
	return &domain.BrokerPosition{Ticker: ticker, Qty: qty, Direction: domain.DirectionLong}, nil
}

// SubmitBracketOrder places the limit entry. Exits follow via AttachExits.
func (b *Broker) SubmitBracketOrder(ctx context.Context, o domain.BracketOrder) (domain.OrderHandle, error) {
	if o.Direction != domain.DirectionLong {
		return domain.OrderHandle{}, fmt.Errorf("binance: %s entry for %s: %w", o.Direction, o.Ticker, domain.ErrUnsupported)
	}
	svc := b.client.NewCreateOrderService().
		Symbol(o.Ticker).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(b.qty(o.Qty)).
		Price(b.price(o.EntryPrice))
	if o.ClientID != "" {
		svc = svc.NewClientOrderID(o.ClientID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("binance: create order %s: %w", o.Ticker, err)
	}
	return domain.OrderHandle{
		ID:          formatOrderID(o.Ticker, resp.OrderID),
		SubmittedAt: time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

// GetOrder fetches an order by the id returned from SubmitBracketOrder.
func (b *Broker) GetOrder(ctx context.Context, id string) (domain.BrokerOrder, error) {
	symbol, orderID, err := parseOrderID(id)
	if err != nil {
		return domain.BrokerOrder{}, err
	}
	o, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("binance: get order %s: %w", id, err)
	}

	out := domain.BrokerOrder{
		ID:          id,
		Ticker:      symbol,
		State:       mapOrderStatus(o.Status),
		FilledQty:   parseFloat(o.ExecutedQuantity),
		SubmittedAt: time.UnixMilli(o.Time).UTC(),
	}
	// partial fills keep their executed quantity even once cancelled
	if out.FilledQty > 0 {
		out.FilledAvgPrice = parseFloat(o.CummulativeQuoteQuantity) / out.FilledQty
		t := time.UnixMilli(o.UpdateTime).UTC()
		out.FilledAt = &t
	}
	return out, nil
}

// CancelOrder cancels an open order.
func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	symbol, orderID, err := parseOrderID(id)
	if err != nil {
		return err
	}
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", id, err)
	}
	return nil
}

// AttachExits replaces any resting orders on ticker with an OCO sell: a
// take-profit limit and a stop-limit.
func (b *Broker) AttachExits(ctx context.Context, ticker string, dir domain.Direction, qty, stopLoss, takeProfit float64) error {
	if dir != domain.DirectionLong {
		return fmt.Errorf("binance: exits for %s %s: %w", dir, ticker, domain.ErrUnsupported)
	}
	if err := b.client.NewCancelOpenOrdersService().Symbol(ticker).Do(ctx); err != nil {
		// nothing resting is reported as an error by the API
		if !strings.Contains(err.Error(), "Unknown order") {
			return fmt.Errorf("binance: cancel resting orders %s: %w", ticker, err)
		}
	}
	stopLimit := stopLoss * (1 - b.cfg.StopLimitSlippage)
	_, err := b.client.NewCreateOCOService().
		Symbol(ticker).
		Side(binance.SideTypeSell).
		Quantity(b.qty(qty)).
		Price(b.price(takeProfit)).
		StopPrice(b.price(stopLoss)).
		StopLimitPrice(b.price(stopLimit)).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: create oco %s: %w", ticker, err)
	}
	return nil
}

// LastExit returns the most recent sell fill of ticker.
func (b *Broker) LastExit(ctx context.Context, ticker string) (*domain.Fill, error) {
	trades, err := b.client.NewListTradesService().Symbol(ticker).Limit(50).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: list trades %s: %w", ticker, err)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Time > trades[j].Time })
	for _, t := range trades {
		if t.IsBuyer {
			continue
		}
		return &domain.Fill{
			Price: parseFloat(t.Price),
			Qty:   parseFloat(t.Quantity),
			Time:  time.UnixMilli(t.Time).UTC(),
		}, nil
	}
	return nil, nil
}

func mapOrderStatus(s binance.OrderStatusType) domain.OrderState {
	switch s {
	case binance.OrderStatusTypeFilled:
		return domain.OrderStateFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return domain.OrderStateCancelled
	case binance.OrderStatusTypeRejected:
		return domain.OrderStateRejected
	case binance.OrderStatusTypeExpired:
		return domain.OrderStateExpired
	default:
		return domain.OrderStateNew
	}
}

func formatOrderID(symbol string, id int64) string {
	return symbol + ":" + strconv.FormatInt(id, 10)
}

func parseOrderID(id string) (string, int64, error) {
	symbol, raw, ok := strings.Cut(id, ":")
	if !ok {
		return "", 0, fmt.Errorf("binance: malformed order id %q", id)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("binance: malformed order id %q: %w", id, err)
	}
	return symbol, n, nil
}
