// Package indicator implements the technical indicators used by strategies,
// the screener and the dispatcher. Series are ordered oldest first; values
// that cannot be computed yet are NaN.
package indicator

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// SMA returns the simple moving average of values over window.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 || len(values) < window {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RSI returns Wilder's relative strength index over window.
func RSI(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 || len(values) <= window {
		return out
	}
	var gain, loss float64
	for i := 1; i <= window; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(window)
	loss /= float64(window)
	out[window] = rsiValue(gain, loss)

	for i := window + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*float64(window-1) + up) / float64(window)
		loss = (loss*float64(window-1) + down) / float64(window)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// TrueRange returns the true range of every bar. The first bar has no
// previous close and uses high minus low.
func TrueRange(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR returns Wilder's average true range over window.
func ATR(bars []domain.Bar, window int) []float64 {
	out := nanSlice(len(bars))
	if window <= 0 || len(bars) < window {
		return out
	}
	tr := TrueRange(bars)
	var sum float64
	for i := 0; i < window; i++ {
		sum += tr[i]
	}
	atr := sum / float64(window)
	out[window-1] = atr
	for i := window; i < len(bars); i++ {
		atr = (atr*float64(window-1) + tr[i]) / float64(window)
		out[i] = atr
	}
	return out
}

// LastATR returns the most recent ATR value, or ErrInsufficientData.
func LastATR(bars []domain.Bar, window int) (float64, error) {
	atr := ATR(bars, window)
	if len(atr) == 0 || math.IsNaN(atr[len(atr)-1]) {
		return 0, fmt.Errorf("indicator: atr(%d) over %d bars: %w", window, len(bars), domain.ErrInsufficientData)
	}
	return atr[len(atr)-1], nil
}

// MeanDollarVolume returns the mean of close*volume across bars.
func MeanDollarVolume(bars []domain.Bar) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("indicator: dollar volume: %w", domain.ErrInsufficientData)
	}
	var sum float64
	for _, b := range bars {
		sum += b.Close * b.Volume
	}
	return sum / float64(len(bars)), nil
}

// EfficiencyRatio returns Kaufman's efficiency ratio of the closes: net
// change divided by the sum of absolute bar-to-bar changes. A flat series
// scores zero.
func EfficiencyRatio(values []float64) (float64, error) {
	if len(values) < 2 {
		return 0, fmt.Errorf("indicator: efficiency ratio: %w", domain.ErrInsufficientData)
	}
	var path float64
	for i := 1; i < len(values); i++ {
		path += math.Abs(values[i] - values[i-1])
	}
	if path == 0 {
		return 0, nil
	}
	return math.Abs(values[len(values)-1]-values[0]) / path, nil
}

// Highest returns the rolling maximum of values over window, excluding the
// current element.
func Highest(values []float64, window int) []float64 {
	return rolling(values, window, math.Max, math.Inf(-1))
}

// Lowest returns the rolling minimum of values over window, excluding the
// current element.
func Lowest(values []float64, window int) []float64 {
	return rolling(values, window, math.Min, math.Inf(1))
}

func rolling(values []float64, window int, pick func(a, b float64) float64, seed float64) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window; i < len(values); i++ {
		v := seed
		for j := i - window; j < i; j++ {
			v = pick(v, values[j])
		}
		out[i] = v
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
