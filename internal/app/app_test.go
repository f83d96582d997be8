package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/config"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/pipeline"
	"github.com/alanyoungcy/tradecycle/internal/store/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.SQLite.Path = sqlite.MemoryDSN(t.Name())
	cfg.DuckDB.Path = ""
	cfg.Universe.Tickers = []string{"aaa", "BBB"}
	cfg.Notify.Events = nil
	require.NoError(t, cfg.Validate())
	return &cfg
}

func testApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	t.Cleanup(a.Close)
	return a
}

func TestWireDefaults(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, []string{"AAA", "BBB"}, deps.Universe)
	assert.NotNil(t, deps.Broker)
	assert.Nil(t, deps.Locker, "redis disabled")
	assert.Nil(t, deps.Archiver, "s3 disabled")
	assert.False(t, deps.Notifier.Enabled())
	assert.Equal(t, 1, deps.Bus.Subscribers(domain.EventPositionSignal))
}

func TestWireRejectsBadUniverseFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Universe.File = t.TempDir() + "/missing.yaml"
	_, _, err := Wire(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "read universe")
}

func TestCycleWithoutBars(t *testing.T) {
	a := testApp(t, testConfig(t))

	report, err := a.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Screen.Failed+report.Screen.Skipped+report.Screen.Rejected)
	assert.Zero(t, report.Dispatched)
}

func TestStageRejectsUnknownStage(t *testing.T) {
	a := testApp(t, testConfig(t))
	_, err := a.Stage(context.Background(), "bogus")
	assert.Error(t, err)

	_, err = a.Stage(context.Background(), pipeline.StageReconcile)
	assert.NoError(t, err)
}

func TestArchiveRequiresS3(t *testing.T) {
	a := testApp(t, testConfig(t))
	_, err := a.Archive(context.Background(), time.Now())
	assert.ErrorContains(t, err, "s3 is not enabled")
}

func TestRefreshRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Polygon.APIKey = ""
	a := testApp(t, cfg)
	_, err := a.Refresh(context.Background(), time.Now(), io.Discard)
	assert.ErrorContains(t, err, "api_key")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = false
	a := testApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
