package binance

import (
	"context"

	"github.com/adshao/go-binance/v2"
)

// Service interfaces wrap the go-binance builders so tests can substitute
// them.

type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

type CreateOCOService interface {
	Symbol(symbol string) CreateOCOService
	Side(side binance.SideType) CreateOCOService
	Quantity(quantity string) CreateOCOService
	Price(price string) CreateOCOService
	StopPrice(price string) CreateOCOService
	StopLimitPrice(price string) CreateOCOService
	StopLimitTimeInForce(tif binance.TimeInForceType) CreateOCOService
	Do(ctx context.Context) (*binance.CreateOCOResponse, error)
}

type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(id int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(id int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

type CancelOpenOrdersService interface {
	Symbol(symbol string) CancelOpenOrdersService
	Do(ctx context.Context) error
}

type ListTradesService interface {
	Symbol(symbol string) ListTradesService
	Limit(limit int) ListTradesService
	Do(ctx context.Context) ([]*binance.TradeV3, error)
}

// Client abstracts the go-binance client.
type Client interface {
	NewCreateOrderService() CreateOrderService
	NewCreateOCOService() CreateOCOService
	NewGetAccountService() GetAccountService
	NewGetOrderService() GetOrderService
	NewCancelOrderService() CancelOrderService
	NewCancelOpenOrdersService() CancelOpenOrdersService
	NewListTradesService() ListTradesService
}

type realClient struct {
	client *binance.Client
}

func (r *realClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrder{s: r.client.NewCreateOrderService()}
}

func (r *realClient) NewCreateOCOService() CreateOCOService {
	return &realCreateOCO{s: r.client.NewCreateOCOService()}
}

func (r *realClient) NewGetAccountService() GetAccountService {
	return &realGetAccount{s: r.client.NewGetAccountService()}
}

func (r *realClient) NewGetOrderService() GetOrderService {
	return &realGetOrder{s: r.client.NewGetOrderService()}
}

func (r *realClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrder{s: r.client.NewCancelOrderService()}
}

func (r *realClient) NewCancelOpenOrdersService() CancelOpenOrdersService {
	return &realCancelOpenOrders{s: r.client.NewCancelOpenOrdersService()}
}

func (r *realClient) NewListTradesService() ListTradesService {
	return &realListTrades{s: r.client.NewListTradesService()}
}

type realCreateOrder struct{ s *binance.CreateOrderService }

func (w *realCreateOrder) Symbol(v string) CreateOrderService { w.s = w.s.Symbol(v); return w }
func (w *realCreateOrder) Side(v binance.SideType) CreateOrderService {
	w.s = w.s.Side(v)
	return w
}
func (w *realCreateOrder) Type(v binance.OrderType) CreateOrderService {
	w.s = w.s.Type(v)
	return w
}
func (w *realCreateOrder) TimeInForce(v binance.TimeInForceType) CreateOrderService {
	w.s = w.s.TimeInForce(v)
	return w
}
func (w *realCreateOrder) Quantity(v string) CreateOrderService { w.s = w.s.Quantity(v); return w }
func (w *realCreateOrder) Price(v string) CreateOrderService    { w.s = w.s.Price(v); return w }
func (w *realCreateOrder) NewClientOrderID(v string) CreateOrderService {
	w.s = w.s.NewClientOrderID(v)
	return w
}
func (w *realCreateOrder) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return w.s.Do(ctx)
}

type realCreateOCO struct{ s *binance.CreateOCOService }

func (w *realCreateOCO) Symbol(v string) CreateOCOService { w.s = w.s.Symbol(v); return w }
func (w *realCreateOCO) Side(v binance.SideType) CreateOCOService {
	w.s = w.s.Side(v)
	return w
}
func (w *realCreateOCO) Quantity(v string) CreateOCOService  { w.s = w.s.Quantity(v); return w }
func (w *realCreateOCO) Price(v string) CreateOCOService     { w.s = w.s.Price(v); return w }
func (w *realCreateOCO) StopPrice(v string) CreateOCOService { w.s = w.s.StopPrice(v); return w }
func (w *realCreateOCO) StopLimitPrice(v string) CreateOCOService {
	w.s = w.s.StopLimitPrice(v)
	return w
}
func (w *realCreateOCO) StopLimitTimeInForce(v binance.TimeInForceType) CreateOCOService {
	w.s = w.s.StopLimitTimeInForce(v)
	return w
}
func (w *realCreateOCO) Do(ctx context.Context) (*binance.CreateOCOResponse, error) {
	return w.s.Do(ctx)
}

type realGetAccount struct{ s *binance.GetAccountService }

func (w *realGetAccount) Do(ctx context.Context) (*binance.Account, error) {
	return w.s.Do(ctx)
}

type realGetOrder struct{ s *binance.GetOrderService }

func (w *realGetOrder) Symbol(v string) GetOrderService { w.s = w.s.Symbol(v); return w }
func (w *realGetOrder) OrderID(v int64) GetOrderService { w.s = w.s.OrderID(v); return w }
func (w *realGetOrder) Do(ctx context.Context) (*binance.Order, error) {
	return w.s.Do(ctx)
}

type realCancelOrder struct{ s *binance.CancelOrderService }

func (w *realCancelOrder) Symbol(v string) CancelOrderService { w.s = w.s.Symbol(v); return w }
func (w *realCancelOrder) OrderID(v int64) CancelOrderService { w.s = w.s.OrderID(v); return w }
func (w *realCancelOrder) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return w.s.Do(ctx)
}

type realCancelOpenOrders struct {
	s *binance.CancelOpenOrdersService
}

func (w *realCancelOpenOrders) Symbol(v string) CancelOpenOrdersService {
	w.s = w.s.Symbol(v)
	return w
}
func (w *realCancelOpenOrders) Do(ctx context.Context) error {
	_, err := w.s.Do(ctx)
	return err
}

type realListTrades struct{ s *binance.ListTradesService }

func (w *realListTrades) Symbol(v string) ListTradesService { w.s = w.s.Symbol(v); return w }
func (w *realListTrades) Limit(v int) ListTradesService     { w.s = w.s.Limit(v); return w }
func (w *realListTrades) Do(ctx context.Context) ([]*binance.TradeV3, error) {
	return w.s.Do(ctx)
}
