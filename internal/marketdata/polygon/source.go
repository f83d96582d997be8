// Package polygon refreshes the local bar store with end-of-day aggregates
// from Polygon.io.
package polygon

import (
	"context"
	"fmt"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/iter"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// AggsLister is the subset of the Polygon REST client used here.
type AggsLister interface {
	ListAggs(ctx context.Context, params *models.ListAggsParams, options ...models.RequestOption) *iter.Iter[models.Agg]
}

// Source fetches daily bars from Polygon.
type Source struct {
	client AggsLister
}

// NewSource creates a Source authenticated with apiKey.
func NewSource(apiKey string) *Source {
	return &Source{client: polygon.New(apiKey)}
}

// NewSourceWithClient wraps an existing client.
func NewSourceWithClient(c AggsLister) *Source {
	return &Source{client: c}
}

// DailyBars returns the daily bars of ticker between from and to inclusive.
func (s *Source) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error) {
	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithAdjusted(true).WithOrder(models.Asc).WithLimit(50000)

	it := s.client.ListAggs(ctx, params)
	var bars []domain.Bar
	for it.Next() {
		agg := it.Item()
		bars = append(bars, domain.Bar{
			Ticker: ticker,
			Time:   time.Time(agg.Timestamp).UTC(),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("polygon: list aggs %s: %w", ticker, err)
	}
	return bars, nil
}
