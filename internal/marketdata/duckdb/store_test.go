package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/broker/paper"
	"github.com/alanyoungcy/tradecycle/internal/domain"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "")
	require.NoError(t, err)
	defer store.Close()

	last, err := store.GetLastRecordDate(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, last.IsNone())

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 5; i++ {
		c := 100 + float64(i)
		bars = append(bars, domain.Bar{
			Ticker: "AAPL", Time: start.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		})
	}
	require.NoError(t, store.UpsertBars(ctx, bars))

	// replacing a bar keeps one row per (ticker, time)
	bars[4].Close = 200
	require.NoError(t, store.UpsertBars(ctx, bars[4:]))

	series, err := store.GetPriceSeries(ctx, "AAPL", 3)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 102.0, series[0].Close)
	assert.Equal(t, 200.0, series[2].Close)
	assert.True(t, series[0].Time.Before(series[2].Time))

	last, err = store.GetLastRecordDate(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, last.IsSome())
	assert.True(t, last.Unwrap().Equal(start.AddDate(0, 0, 4)))

	tickers, err := store.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, tickers)

	_, err = store.GetPriceSeries(ctx, "MSFT", 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestPaperAccountSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "")
	require.NoError(t, err)
	defer store.Close()

	saved, err := store.LoadPaperAccount(ctx)
	require.NoError(t, err)
	assert.True(t, saved.IsNone())

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertBars(ctx, []domain.Bar{
		{Ticker: "AAPL", Time: day, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000},
	}))

	first, err := paper.Open(ctx, store, store, 10000)
	require.NoError(t, err)
	h, err := first.SubmitBracketOrder(ctx, domain.BracketOrder{
		Ticker: "AAPL", Direction: domain.DirectionLong,
		EntryPrice: 101, StopLoss: 95, TakeProfit: 110, Qty: 10,
	})
	require.NoError(t, err)
	o, err := first.GetOrder(ctx, h.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStateFilled, o.State)

	second, err := paper.Open(ctx, store, store, 10000)
	require.NoError(t, err)

	o, err = second.GetOrder(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, o.State)
	assert.Equal(t, 10.0, o.FilledQty)

	pos, err := second.GetOpenPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 10.0, pos.Qty)

	acct, err := second.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9000.0, acct.Cash, 1e-9)
}
