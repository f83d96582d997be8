package domain

import (
	"context"
	"time"
)

// AccountState is a snapshot of the broker account.
type AccountState struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}

// BrokerPosition is the broker's view of a held position.
type BrokerPosition struct {
	Ticker        string
	Qty           float64
	AvgEntryPrice float64
	Direction     Direction
}

// BracketOrder is an entry order with attached stop-loss and take-profit legs.
type BracketOrder struct {
	ClientID   string
	Ticker     string
	Direction  Direction
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Qty        float64
}

// OrderHandle identifies a submitted order.
type OrderHandle struct {
	ID          string
	SubmittedAt time.Time
}

// OrderState tracks a broker order.
type OrderState string

const (
	OrderStateNew       OrderState = "new"
	OrderStateFilled    OrderState = "filled"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateRejected  OrderState = "rejected"
	OrderStateExpired   OrderState = "expired"
)

// IsDead reports whether the order can no longer fill.
func (s OrderState) IsDead() bool {
	return s == OrderStateCancelled || s == OrderStateRejected || s == OrderStateExpired
}

// BrokerOrder is the broker's view of a submitted order.
type BrokerOrder struct {
	ID             string
	Ticker         string
	State          OrderState
	FilledQty      float64
	FilledAvgPrice float64
	SubmittedAt    time.Time
	FilledAt       *time.Time
}

// Fill is a completed execution.
type Fill struct {
	Price float64
	Qty   float64
	Time  time.Time
}

// Broker is the external account that executes bracket orders.
type Broker interface {
	GetAccount(ctx context.Context) (AccountState, error)
	// GetOpenPosition returns nil when the account holds nothing in ticker.
	GetOpenPosition(ctx context.Context, ticker string) (*BrokerPosition, error)
	SubmitBracketOrder(ctx context.Context, order BracketOrder) (OrderHandle, error)
	GetOrder(ctx context.Context, id string) (BrokerOrder, error)
	CancelOrder(ctx context.Context, id string) error
}

// ExitAttacher is implemented by brokers whose exits are placed after the
// entry fills rather than alongside it.
type ExitAttacher interface {
	AttachExits(ctx context.Context, ticker string, dir Direction, qty, stopLoss, takeProfit float64) error
}

// ExitReporter is implemented by brokers that can report how a position was
// closed.
type ExitReporter interface {
	LastExit(ctx context.Context, ticker string) (*Fill, error)
}
