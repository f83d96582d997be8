package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Ticker: "TEST",
			Time:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func TestSMACrossover_Signals(t *testing.T) {
	series := barsFromCloses(10, 10, 10, 10, 9, 8, 7, 8, 10, 12, 14)
	signals, err := SMACrossover{}.ModelTradingSignals(series, Params{"fast": 2, "slow": 4})
	require.NoError(t, err)
	require.Len(t, signals, len(series))

	dir, err := LastSignal(signals)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionLong, dir)
	assert.Contains(t, signals, -1)
}

func TestSMACrossover_RejectsFastNotBelowSlow(t *testing.T) {
	series := barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8)
	_, err := SMACrossover{}.ModelTradingSignals(series, Params{"fast": 4, "slow": 4})
	assert.Error(t, err)
}

func TestSMACrossover_InsufficientData(t *testing.T) {
	_, err := SMACrossover{}.ModelTradingSignals(barsFromCloses(1, 2, 3), Params{"fast": 2, "slow": 5})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestDonchianBreakout_Signals(t *testing.T) {
	series := barsFromCloses(10, 10, 10, 10, 12, 10, 10, 7)
	signals, err := DonchianBreakout{}.ModelTradingSignals(series, Params{"window": 3})
	require.NoError(t, err)
	assert.Equal(t, 1, signals[4])
	assert.Equal(t, -1, signals[7])
}

func TestRSIReversion_ValidatesBands(t *testing.T) {
	series := barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	_, err := RSIReversion{}.ModelTradingSignals(series, Params{"window": 3, "lower": 70, "upper": 30})
	assert.Error(t, err)

	signals, err := RSIReversion{}.ModelTradingSignals(series, Params{"window": 3, "lower": 30, "upper": 70})
	require.NoError(t, err)
	assert.Len(t, signals, len(series))
}

func TestLastSignal_NoSignal(t *testing.T) {
	_, err := LastSignal([]int{0, 0, 0})
	assert.ErrorIs(t, err, domain.ErrNoSignal)

	dir, err := LastSignal([]int{1, 0, -1, 0})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionShort, dir)
}

func TestCatalogue(t *testing.T) {
	c := Builtin()
	assert.Equal(t, []string{"donchian_breakout", "rsi_reversion", "sma_crossover"}, c.List())

	all, err := c.Select("all")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := c.Select("sma_crossover")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "sma_crossover", one[0].Name())

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestGrid_LazyDecoding(t *testing.T) {
	g, err := NewGrid([]ParamRange{
		{Name: "a", Min: 1, Max: 3, Step: 1},
		{Name: "b", Min: 0.1, Max: 0.3, Step: 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, g.Len())

	assert.Equal(t, Params{"a": 1, "b": 0.1}, g.At(0))
	assert.Equal(t, Params{"a": 1, "b": 0.3}, g.At(2))
	assert.Equal(t, Params{"a": 2, "b": 0.1}, g.At(3))
	assert.Equal(t, Params{"a": 3, "b": 0.3}, g.At(8))

	count := 0
	for i, p := range g.All() {
		assert.Equal(t, g.At(i), p)
		count++
	}
	assert.Equal(t, 9, count)
}

func TestNewGrid_RejectsInvalidSpace(t *testing.T) {
	_, err := NewGrid([]ParamRange{{Name: "a", Min: 5, Max: 1, Step: 1}})
	assert.Error(t, err)

	_, err = NewGrid([]ParamRange{{Name: "a", Min: 1, Max: 5, Step: 0}})
	assert.Error(t, err)

	_, err = NewGrid([]ParamRange{{Name: "a", Min: 1, Max: 2, Step: 1}, {Name: "a", Min: 1, Max: 2, Step: 1}})
	assert.Error(t, err)
}

func TestLoadSpace(t *testing.T) {
	dir := t.TempDir()
	body := `strategy: sma_crossover
parameters:
  - name: fast
    min: 3
    max: 9
    step: 3
  - name: slow
    min: 20
    max: 30
    step: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sma_crossover.yaml"), []byte(body), 0o644))

	space, err := LoadSpace(dir, "sma_crossover")
	require.NoError(t, err)
	require.Len(t, space, 2)
	assert.Equal(t, ParamRange{Name: "fast", Min: 3, Max: 9, Step: 3}, space[0])

	missing, err := LoadSpace(dir, "rsi_reversion")
	require.NoError(t, err)
	assert.Nil(t, missing)

	bad := "strategy: donchian_breakout\nparameters:\n  - name: window\n    min: 1\n    max: 5\n    step: -1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "donchian_breakout.yaml"), []byte(bad), 0o644))
	_, err = LoadSpace(dir, "donchian_breakout")
	assert.Error(t, err)
}
