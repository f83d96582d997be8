package bracket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

func TestCompute(t *testing.T) {
	l, err := Compute(100, 10, Multipliers{StopLoss: 0.1, TakeProfit: 0.3})
	require.NoError(t, err)

	assert.Equal(t, 99.0, l.LongStopLoss)
	assert.Equal(t, 103.0, l.LongTakeProfit)
	assert.Equal(t, 101.0, l.ShortStopLoss)
	assert.Equal(t, 97.0, l.ShortTakeProfit)
	assert.Equal(t, 101.5, l.LongLimit)
	assert.Equal(t, 98.5, l.ShortLimit)
}

func TestCompute_ZeroATRCollapsesToClose(t *testing.T) {
	l, err := Compute(42.5, 0, Multipliers{StopLoss: 1, TakeProfit: 2})
	require.NoError(t, err)
	assert.Equal(t, 42.5, l.LongStopLoss)
	assert.Equal(t, 42.5, l.ShortLimit)
}

func TestCompute_RejectsBadInput(t *testing.T) {
	_, err := Compute(0, 1, Multipliers{StopLoss: 1, TakeProfit: 1})
	assert.Error(t, err)
	_, err = Compute(10, -1, Multipliers{StopLoss: 1, TakeProfit: 1})
	assert.Error(t, err)
	_, err = Compute(10, 1, Multipliers{StopLoss: 0, TakeProfit: 1})
	assert.Error(t, err)
}

func TestLevelsFor(t *testing.T) {
	l, err := Compute(100, 10, Multipliers{StopLoss: 0.1, TakeProfit: 0.3})
	require.NoError(t, err)

	long, err := l.For(domain.DirectionLong)
	require.NoError(t, err)
	assert.Equal(t, Bracket{Direction: domain.DirectionLong, Entry: 101.5, StopLoss: 99, TakeProfit: 103}, long)

	short, err := l.For(domain.DirectionShort)
	require.NoError(t, err)
	assert.Equal(t, Bracket{Direction: domain.DirectionShort, Entry: 98.5, StopLoss: 101, TakeProfit: 97}, short)

	_, err = l.For(domain.DirectionFlat)
	assert.Error(t, err)
}
