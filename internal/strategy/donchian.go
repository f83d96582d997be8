package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/indicator"
)

// DonchianBreakout trades closes that escape the prior channel.
type DonchianBreakout struct{}

func (DonchianBreakout) Name() string { return "donchian_breakout" }

func (DonchianBreakout) DefaultSpace() []ParamRange {
	return []ParamRange{
		{Name: "window", Min: 10, Max: 55, Step: 15},
	}
}

func (DonchianBreakout) ModelTradingSignals(series []domain.Bar, params Params) ([]int, error) {
	window, err := params.Int("window")
	if err != nil {
		return nil, err
	}
	if window < 2 {
		return nil, fmt.Errorf("donchian_breakout: window must be at least 2, got %d", window)
	}
	if err := requireBars(series, window+1); err != nil {
		return nil, err
	}

	highs := make([]float64, len(series))
	lows := make([]float64, len(series))
	for i, b := range series {
		highs[i], lows[i] = b.High, b.Low
	}
	upper := indicator.Highest(highs, window)
	lower := indicator.Lowest(lows, window)

	out := make([]int, len(series))
	for i, b := range series {
		if math.IsNaN(upper[i]) {
			continue
		}
		switch {
		case b.Close > upper[i]:
			out[i] = 1
		case b.Close < lower[i]:
			out[i] = -1
		}
	}
	return out, nil
}
