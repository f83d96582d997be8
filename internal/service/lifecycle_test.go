package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

func TestVerifyDetectsSecondActivePosition(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)

	_, err := lc.Create(ctx, domain.Position{Ticker: "AAA", Status: domain.PositionStatusScreened})
	require.NoError(t, err)
	require.NoError(t, lc.Verify(ctx, []string{"AAA"}))

	_, err = lc.Create(ctx, domain.Position{Ticker: "AAA", Status: domain.PositionStatusOptimized})
	require.NoError(t, err)

	err = lc.Verify(ctx, []string{"BBB", "AAA"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrActivePositionExists)
	var ie *domain.InvariantError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "AAA", ie.Ticker)
}

func TestNarrowPolicyIgnoresPendingRecords(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestLifecycle(t, domain.ActivePolicyNarrow)

	seedOpen(t, lc, "AAA", nil, 100, 1)
	_, err := lc.Create(ctx, domain.Position{Ticker: "AAA", Status: domain.PositionStatusScreened})
	require.NoError(t, err)
	require.NoError(t, lc.VerifyTicker(ctx, "AAA"))

	blocked, err := lc.Blocked(ctx, "AAA")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestTransitionRejectsStaleStatus(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)

	pos, err := lc.Create(ctx, domain.Position{Ticker: "AAA", Status: domain.PositionStatusScreened})
	require.NoError(t, err)
	_, err = lc.Transition(ctx, pos, domain.PositionStatusOptimized, domain.PositionPatch{})
	require.NoError(t, err)

	// pos still says SCREENED
	_, err = lc.Cancel(ctx, pos, "late")
	assert.ErrorIs(t, err, domain.ErrStaleStatus)

	entries, err := lc.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTickersDeduplicates(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestLifecycle(t, domain.ActivePolicyBroad)
	for _, tk := range []string{"BBB", "AAA"} {
		_, err := lc.Create(ctx, domain.Position{Ticker: tk, Status: domain.PositionStatusScreened})
		require.NoError(t, err)
	}
	_, err := lc.Create(ctx, domain.Position{Ticker: "CCC", Status: domain.PositionStatusOptimized})
	require.NoError(t, err)

	got, err := lc.Tickers(ctx, domain.PositionStatusScreened, domain.PositionStatusOptimized, domain.PositionStatusScreened)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB", "AAA", "CCC"}, got)
}
