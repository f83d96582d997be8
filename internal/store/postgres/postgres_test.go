package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/tc?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "tc"}))
	assert.Equal(t, "postgres://u:p@db:6432/tc?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Port: 6432, Database: "tc", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestApplyListOpts(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 0, 1)
	q := applyListOpts(psql.Select("id").From("positions"), "updated_at",
		domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20})

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM positions WHERE updated_at >= $1 AND updated_at < $2 LIMIT 10 OFFSET 20", sql)
	assert.Equal(t, []any{since, until}, args)

	sql, args, err = applyListOpts(psql.Select("id").From("positions"), "created_at", domain.ListOpts{}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM positions", sql)
	assert.Empty(t, args)
}

// testClient connects to TRADECYCLE_TEST_POSTGRES_DSN, migrates, and empties
// the tables. The test is skipped when the variable is unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("TRADECYCLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRADECYCLE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, "TRUNCATE positions, audit_log")
	require.NoError(t, err)
	return c
}

func TestPositionStoreRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewPositionStore(c.Pool())

	id, err := s.Create(ctx, domain.Position{
		Ticker: "AAPL",
		Status: domain.PositionStatusOptimized,
		Parameters: &domain.StrategyParameters{
			Strategy: "sma_crossover",
			Values:   map[string]float64{"fast": 5, "slow": 20},
		},
	})
	require.NoError(t, err)

	got, err := s.GetByStatus(ctx, "AAPL", domain.PositionStatusOptimized)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	require.NotNil(t, got.Parameters)
	assert.Equal(t, 20.0, got.Parameters.Values["slow"])

	_, err = s.Update(ctx, id, domain.PositionPatch{
		ExpectStatus: domain.PositionStatusOptimized,
		Status:       domain.Ptr(domain.PositionStatusDispatched),
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, id, domain.PositionPatch{
		ExpectStatus: domain.PositionStatusOptimized,
		Status:       domain.Ptr(domain.PositionStatusCancelled),
	})
	assert.ErrorIs(t, err, domain.ErrStaleStatus)

	n, err := s.CountActive(ctx, "AAPL", []domain.PositionStatus{domain.PositionStatusDispatched, domain.PositionStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPositionStoreOneDispatchedPerTicker(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewPositionStore(c.Pool())

	_, err := s.Create(ctx, domain.Position{Ticker: "MSFT", Status: domain.PositionStatusDispatched})
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.Position{Ticker: "MSFT", Status: domain.PositionStatusDispatched})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestAuditStore(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	a := NewAuditStore(c.Pool())

	require.NoError(t, a.Log(ctx, "position.created", map[string]any{"ticker": "AAPL"}))
	require.NoError(t, a.Log(ctx, "position.updated", nil))

	entries, err := a.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "position.updated", entries[0].Event)
	assert.Equal(t, "AAPL", entries[1].Detail["ticker"])
}
