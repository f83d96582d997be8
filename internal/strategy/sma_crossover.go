package strategy

import (
	"fmt"

	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/indicator"
)

// SMACrossover goes long when the fast average crosses above the slow one and
// short on the opposite cross.
type SMACrossover struct{}

func (SMACrossover) Name() string { return "sma_crossover" }

func (SMACrossover) DefaultSpace() []ParamRange {
	return []ParamRange{
		{Name: "fast", Min: 5, Max: 20, Step: 5},
		{Name: "slow", Min: 20, Max: 60, Step: 10},
	}
}

func (SMACrossover) ModelTradingSignals(series []domain.Bar, params Params) ([]int, error) {
	fast, err := params.Int("fast")
	if err != nil {
		return nil, err
	}
	slow, err := params.Int("slow")
	if err != nil {
		return nil, err
	}
	if fast <= 0 || fast >= slow {
		return nil, fmt.Errorf("sma_crossover: fast (%d) must be positive and below slow (%d)", fast, slow)
	}
	if err := requireBars(series, slow+1); err != nil {
		return nil, err
	}

	closes := domain.Closes(series)
	return crosses(indicator.SMA(closes, fast), indicator.SMA(closes, slow)), nil
}
