package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/moznion/go-optional"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// StateStore persists a paper account between runs so one-shot commands see
// the orders and holdings of earlier ones.
type StateStore interface {
	LoadPaperAccount(ctx context.Context) (optional.Option[[]byte], error)
	SavePaperAccount(ctx context.Context, state []byte) error
}

type accountState struct {
	Cash     float64                `json:"cash"`
	Orders   []orderState           `json:"orders"`
	Holdings []holdingState         `json:"holdings"`
	Exits    map[string]domain.Fill `json:"exits"`
}

type orderState struct {
	Order   domain.BrokerOrder  `json:"order"`
	Request domain.BracketOrder `json:"request"`
}

type holdingState struct {
	Position   domain.BrokerPosition `json:"position"`
	StopLoss   float64               `json:"stop_loss"`
	TakeProfit float64               `json:"take_profit"`
	FillBar    time.Time             `json:"fill_bar"`
}

// Open returns a paper broker backed by state. A saved account is restored;
// otherwise a new one is funded with cash and saved.
func Open(ctx context.Context, prices domain.PriceProvider, state StateStore, cash float64) (*Broker, error) {
	b := New(prices, cash)
	b.state = state

	saved, err := state.LoadPaperAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper: load account: %w", err)
	}
	if !saved.IsSome() {
		if err := b.save(ctx); err != nil {
			return nil, err
		}
		return b, nil
	}

	var s accountState
	if err := json.Unmarshal(saved.Unwrap(), &s); err != nil {
		return nil, fmt.Errorf("paper: decode account: %w", err)
	}
	b.cash = s.Cash
	for _, o := range s.Orders {
		b.orders[o.Order.ID] = &order{BrokerOrder: o.Order, req: o.Request}
	}
	for _, h := range s.Holdings {
		b.holdings[h.Position.Ticker] = &holding{
			BrokerPosition: h.Position,
			stopLoss:       h.StopLoss,
			takeProfit:     h.TakeProfit,
			fillBar:        h.FillBar,
		}
	}
	for ticker, f := range s.Exits {
		b.exits[ticker] = f
	}
	return b, nil
}

// save writes the account to the state store. Callers hold b.mu.
func (b *Broker) save(ctx context.Context) error {
	if b.state == nil {
		return nil
	}
	s := accountState{
		Cash:     b.cash,
		Orders:   make([]orderState, 0, len(b.orders)),
		Holdings: make([]holdingState, 0, len(b.holdings)),
		Exits:    b.exits,
	}
	for _, o := range b.orders {
		s.Orders = append(s.Orders, orderState{Order: o.BrokerOrder, Request: o.req})
	}
	for _, h := range b.holdings {
		s.Holdings = append(s.Holdings, holdingState{
			Position:   h.BrokerPosition,
			StopLoss:   h.stopLoss,
			TakeProfit: h.takeProfit,
			FillBar:    h.fillBar,
		})
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("paper: encode account: %w", err)
	}
	if err := b.state.SavePaperAccount(ctx, raw); err != nil {
		return fmt.Errorf("paper: save account: %w", err)
	}
	return nil
}
