// Package bracket derives stop-loss, take-profit and limit-entry levels from
// a close price and the average true range.
package bracket

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Multipliers scale the ATR into stop-loss and take-profit distances.
type Multipliers struct {
	StopLoss   float64
	TakeProfit float64
}

// Levels is the set of bracket prices for both directions.
type Levels struct {
	LongStopLoss    float64
	LongTakeProfit  float64
	ShortStopLoss   float64
	ShortTakeProfit float64
	LongLimit       float64
	ShortLimit      float64
}

// Bracket is the one-sided result chosen for a direction.
type Bracket struct {
	Direction  domain.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
}

var two = decimal.NewFromInt(2)

// Compute returns the bracket levels for close c and ATR a.
//
//	long_sl  = c - a*sl    long_tp  = c + a*tp
//	short_sl = c + a*sl    short_tp = c - a*tp
//	long_limit = c + a*tp/2, short_limit = c - a*tp/2
func Compute(c, a float64, m Multipliers) (Levels, error) {
	if c <= 0 {
		return Levels{}, fmt.Errorf("bracket: close must be positive, got %v", c)
	}
	if a < 0 {
		return Levels{}, fmt.Errorf("bracket: atr must not be negative, got %v", a)
	}
	if m.StopLoss <= 0 || m.TakeProfit <= 0 {
		return Levels{}, fmt.Errorf("bracket: multipliers must be positive, got sl=%v tp=%v", m.StopLoss, m.TakeProfit)
	}

	dc := decimal.NewFromFloat(c)
	da := decimal.NewFromFloat(a)
	slDist := da.Mul(decimal.NewFromFloat(m.StopLoss))
	tpDist := da.Mul(decimal.NewFromFloat(m.TakeProfit))
	half := tpDist.Div(two)

	return Levels{
		LongStopLoss:    dc.Sub(slDist).InexactFloat64(),
		LongTakeProfit:  dc.Add(tpDist).InexactFloat64(),
		ShortStopLoss:   dc.Add(slDist).InexactFloat64(),
		ShortTakeProfit: dc.Sub(tpDist).InexactFloat64(),
		LongLimit:       dc.Add(half).InexactFloat64(),
		ShortLimit:      dc.Sub(half).InexactFloat64(),
	}, nil
}

// For picks the side of l matching dir.
func (l Levels) For(dir domain.Direction) (Bracket, error) {
	switch dir {
	case domain.DirectionLong:
		return Bracket{Direction: dir, Entry: l.LongLimit, StopLoss: l.LongStopLoss, TakeProfit: l.LongTakeProfit}, nil
	case domain.DirectionShort:
		return Bracket{Direction: dir, Entry: l.ShortLimit, StopLoss: l.ShortStopLoss, TakeProfit: l.ShortTakeProfit}, nil
	default:
		return Bracket{}, fmt.Errorf("bracket: no bracket for direction %s", dir)
	}
}
