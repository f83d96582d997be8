package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/indicator"
)

// RSIReversion buys when RSI recovers above the lower band and sells when it
// falls back below the upper band.
type RSIReversion struct{}

func (RSIReversion) Name() string { return "rsi_reversion" }

func (RSIReversion) DefaultSpace() []ParamRange {
	return []ParamRange{
		{Name: "window", Min: 7, Max: 21, Step: 7},
		{Name: "lower", Min: 20, Max: 35, Step: 5},
		{Name: "upper", Min: 65, Max: 80, Step: 5},
	}
}

func (RSIReversion) ModelTradingSignals(series []domain.Bar, params Params) ([]int, error) {
	window, err := params.Int("window")
	if err != nil {
		return nil, err
	}
	lower, err := params.Float("lower")
	if err != nil {
		return nil, err
	}
	upper, err := params.Float("upper")
	if err != nil {
		return nil, err
	}
	if window < 2 {
		return nil, fmt.Errorf("rsi_reversion: window must be at least 2, got %d", window)
	}
	if lower >= upper {
		return nil, fmt.Errorf("rsi_reversion: lower (%v) must be below upper (%v)", lower, upper)
	}
	if err := requireBars(series, window+2); err != nil {
		return nil, err
	}

	rsi := indicator.RSI(domain.Closes(series), window)
	out := make([]int, len(series))
	for i := 1; i < len(rsi); i++ {
		if math.IsNaN(rsi[i-1]) {
			continue
		}
		switch {
		case rsi[i-1] <= lower && rsi[i] > lower:
			out[i] = 1
		case rsi[i-1] >= upper && rsi[i] < upper:
			out[i] = -1
		}
	}
	return out, nil
}
