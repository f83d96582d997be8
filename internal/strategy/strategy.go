package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Params is one concrete parameter assignment for a strategy.
type Params map[string]float64

// Int returns the named parameter rounded to an int.
func (p Params) Int(name string) (int, error) {
	v, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("strategy: missing parameter %q", name)
	}
	return int(math.Round(v)), nil
}

// Float returns the named parameter.
func (p Params) Float(name string) (float64, error) {
	v, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("strategy: missing parameter %q", name)
	}
	return v, nil
}

// Strategy turns a price series and parameters into per-bar signals:
// +1 enter long, -1 enter short, 0 no new signal.
type Strategy interface {
	Name() string
	// DefaultSpace is the parameter search space used when no override is
	// configured.
	DefaultSpace() []ParamRange
	// ModelTradingSignals returns one signal per bar of series.
	ModelTradingSignals(series []domain.Bar, params Params) ([]int, error)
}

// LastSignal returns the most recent non-zero signal as a direction, or
// domain.ErrNoSignal when every signal is zero.
func LastSignal(signals []int) (domain.Direction, error) {
	for i := len(signals) - 1; i >= 0; i-- {
		switch {
		case signals[i] > 0:
			return domain.DirectionLong, nil
		case signals[i] < 0:
			return domain.DirectionShort, nil
		}
	}
	return domain.DirectionFlat, domain.ErrNoSignal
}

// crosses returns +1 where a crosses above b, -1 where it crosses below.
func crosses(a, b []float64) []int {
	out := make([]int, len(a))
	for i := 1; i < len(a); i++ {
		if math.IsNaN(a[i-1]) || math.IsNaN(b[i-1]) || math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		switch {
		case a[i-1] <= b[i-1] && a[i] > b[i]:
			out[i] = 1
		case a[i-1] >= b[i-1] && a[i] < b[i]:
			out[i] = -1
		}
	}
	return out
}

func requireBars(series []domain.Bar, n int) error {
	if len(series) < n {
		return fmt.Errorf("strategy: need %d bars, have %d: %w", n, len(series), domain.ErrInsufficientData)
	}
	return nil
}
