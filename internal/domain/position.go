package domain

import (
	"fmt"
	"strings"
	"time"
)

// PositionStatus is a stage in the position lifecycle.
type PositionStatus string

const (
	PositionStatusScreened   PositionStatus = "SCREENED"
	PositionStatusOptimized  PositionStatus = "OPTIMIZED"
	PositionStatusDispatched PositionStatus = "DISPATCHED"
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusCancelled  PositionStatus = "CANCELLED"
)

// validTransitions lists, per status, the statuses a position may move to.
var validTransitions = map[PositionStatus][]PositionStatus{
	PositionStatusScreened:   {PositionStatusOptimized, PositionStatusCancelled},
	PositionStatusOptimized:  {PositionStatusDispatched, PositionStatusCancelled},
	PositionStatusDispatched: {PositionStatusOpen, PositionStatusCancelled},
	PositionStatusOpen:       {PositionStatusClosed, PositionStatusCancelled},
	PositionStatusClosed:     {},
	PositionStatusCancelled:  {},
}

// AllPositionStatuses returns every status in lifecycle order.
func AllPositionStatuses() []PositionStatus {
	return []PositionStatus{
		PositionStatusScreened,
		PositionStatusOptimized,
		PositionStatusDispatched,
		PositionStatusOpen,
		PositionStatusClosed,
		PositionStatusCancelled,
	}
}

// ParsePositionStatus converts a stored string into a PositionStatus.
func ParsePositionStatus(s string) (PositionStatus, error) {
	st := PositionStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("unknown position status %q", s)
	}
	return st, nil
}

// CanTransition reports whether a position in status s may move to next.
func (s PositionStatus) CanTransition(next PositionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosed || s == PositionStatusCancelled
}

// CanCreateWith reports whether a new position may be persisted directly in s.
func (s PositionStatus) CanCreateWith() bool {
	return s == PositionStatusScreened || s == PositionStatusOptimized || s == PositionStatusDispatched
}

// Direction is the trade side: +1 long, -1 short.
type Direction int

const (
	DirectionShort Direction = -1
	DirectionFlat  Direction = 0
	DirectionLong  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "flat"
	}
}

// StrategyParameters is the chosen parameter set for one strategy on one ticker.
type StrategyParameters struct {
	Strategy  string             `json:"strategy"`
	Values    map[string]float64 `json:"values"`
	Objective string             `json:"objective,omitempty"`
	Score     float64            `json:"score"`
}

// Position is one record of the lifecycle for a ticker. Positions are never
// deleted; terminal records stay as history.
type Position struct {
	ID     string         `json:"id"`
	Ticker string         `json:"ticker"`
	Status PositionStatus `json:"status"`

	Parameters       *StrategyParameters `json:"parameters,omitempty"`
	StrategyName     string              `json:"strategy_name,omitempty"`
	Direction        Direction           `json:"direction"`
	TargetEntryPrice float64             `json:"target_entry_price"`
	StopLoss         float64             `json:"stop_loss"`
	TakeProfit       float64             `json:"take_profit"`

	EntryPrice float64    `json:"entry_price"`
	EntryDate  *time.Time `json:"entry_date,omitempty"`
	UnitSize   float64    `json:"unit_size"`
	CashSize   float64    `json:"cash_size"`

	ExitPrice float64    `json:"exit_price"`
	ExitDate  *time.Time `json:"exit_date,omitempty"`
	ReturnPct float64    `json:"return_pct"`
	PnL       float64    `json:"pnl"`

	BrokerOrderID string `json:"broker_order_id,omitempty"`
	// ExitsAttached is set once the broker confirms resting exit orders for
	// an OPEN position placed without them.
	ExitsAttached bool `json:"exits_attached,omitempty"`
	// ParentID links a bracket adjustment to the OPEN position it targets.
	ParentID  string    `json:"parent_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdjustment reports whether p is a bracket adjustment rather than a
// primary position.
func (p Position) IsAdjustment() bool {
	return p.ParentID != ""
}

// PositionPatch describes a partial update. Nil fields are left untouched.
// When ExpectStatus is set the update only applies if the stored status still
// matches it.
type PositionPatch struct {
	ExpectStatus PositionStatus
	Status       *PositionStatus

	Parameters       *StrategyParameters
	StrategyName     *string
	Direction        *Direction
	TargetEntryPrice *float64
	StopLoss         *float64
	TakeProfit       *float64

	EntryPrice *float64
	EntryDate  *time.Time
	UnitSize   *float64
	CashSize   *float64

	ExitPrice *float64
	ExitDate  *time.Time
	ReturnPct *float64
	PnL       *float64

	BrokerOrderID *string
	ExitsAttached *bool
	ParentID      *string
	Note          *string
}

// Apply validates patch against p and mutates p in place. Stores call it
// inside their update transaction so the rules hold for every backend.
func (p *Position) Apply(patch PositionPatch, now time.Time) error {
	if patch.ExpectStatus != "" && p.Status != patch.ExpectStatus {
		return fmt.Errorf("%w: position %s is %s, expected %s", ErrStaleStatus, p.ID, p.Status, patch.ExpectStatus)
	}
	if patch.Status != nil && *patch.Status != p.Status {
		if !p.Status.CanTransition(*patch.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, *patch.Status)
		}
		p.Status = *patch.Status
	}
	if patch.Parameters != nil {
		p.Parameters = patch.Parameters
	}
	setIf(&p.StrategyName, patch.StrategyName)
	setIf(&p.Direction, patch.Direction)
	setIf(&p.TargetEntryPrice, patch.TargetEntryPrice)
	setIf(&p.StopLoss, patch.StopLoss)
	setIf(&p.TakeProfit, patch.TakeProfit)
	setIf(&p.EntryPrice, patch.EntryPrice)
	setIf(&p.UnitSize, patch.UnitSize)
	setIf(&p.CashSize, patch.CashSize)
	setIf(&p.ExitPrice, patch.ExitPrice)
	setIf(&p.ReturnPct, patch.ReturnPct)
	setIf(&p.PnL, patch.PnL)
	setIf(&p.BrokerOrderID, patch.BrokerOrderID)
	setIf(&p.ExitsAttached, patch.ExitsAttached)
	setIf(&p.ParentID, patch.ParentID)
	setIf(&p.Note, patch.Note)
	if patch.EntryDate != nil {
		t := *patch.EntryDate
		p.EntryDate = &t
	}
	if patch.ExitDate != nil {
		t := *patch.ExitDate
		p.ExitDate = &t
	}
	p.UpdatedAt = now
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// ActivePolicy selects which statuses count as "active" when enforcing one
// active position per ticker.
type ActivePolicy string

const (
	// ActivePolicyBroad counts every non-terminal status.
	ActivePolicyBroad ActivePolicy = "broad"
	// ActivePolicyNarrow counts only positions with broker exposure.
	ActivePolicyNarrow ActivePolicy = "narrow"
)

// Statuses returns the statuses considered active under the policy.
func (a ActivePolicy) Statuses() []PositionStatus {
	if a == ActivePolicyNarrow {
		return []PositionStatus{PositionStatusDispatched, PositionStatusOpen}
	}
	return []PositionStatus{
		PositionStatusScreened,
		PositionStatusOptimized,
		PositionStatusDispatched,
		PositionStatusOpen,
	}
}

// IsActive reports whether s is active under the policy.
func (a ActivePolicy) IsActive(s PositionStatus) bool {
	for _, st := range a.Statuses() {
		if st == s {
			return true
		}
	}
	return false
}

// Valid reports whether a is a known policy.
func (a ActivePolicy) Valid() bool {
	return a == ActivePolicyBroad || a == ActivePolicyNarrow
}
