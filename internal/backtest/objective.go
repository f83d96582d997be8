package backtest

import "fmt"

// Objective names the statistic the optimizer maximises.
type Objective string

const (
	ObjectiveTotalReturn  Objective = "total_return"
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveWinRate      Objective = "win_rate"
	ObjectiveProfitFactor Objective = "profit_factor"
	ObjectiveTradeCount   Objective = "trade_count"
)

// ParseObjective validates a configured objective name.
func ParseObjective(s string) (Objective, error) {
	switch o := Objective(s); o {
	case ObjectiveTotalReturn, ObjectiveSharpe, ObjectiveWinRate, ObjectiveProfitFactor, ObjectiveTradeCount:
		return o, nil
	case "":
		return ObjectiveTotalReturn, nil
	default:
		return "", fmt.Errorf("backtest: unknown objective %q", s)
	}
}

// Score extracts the objective value from s.
func (o Objective) Score(s Stats) float64 {
	switch o {
	case ObjectiveSharpe:
		return s.Sharpe
	case ObjectiveWinRate:
		return s.WinRate
	case ObjectiveProfitFactor:
		return s.ProfitFactor
	case ObjectiveTradeCount:
		return float64(s.NumberOfTrades)
	default:
		return s.TotalReturn
	}
}
