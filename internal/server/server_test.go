package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/pipeline"
	"github.com/alanyoungcy/tradecycle/internal/server/handler"
	"github.com/alanyoungcy/tradecycle/internal/store/sqlite"
)

type fakeCycle struct {
	triggers int
	last     *pipeline.CycleReport
}

func (f *fakeCycle) Trigger() bool {
	f.triggers++
	return f.triggers == 1
}

func (f *fakeCycle) Last() *pipeline.CycleReport { return f.last }

func testLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func newTestRouter(t *testing.T, apiKey string, health *handler.HealthHandler, cycle *fakeCycle) (http.Handler, *sqlite.PositionStore) {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	positions := sqlite.NewPositionStore(db)

	if health == nil {
		health = handler.NewHealthHandler(testLogger())
	}
	r := NewRouter(Config{APIKey: apiKey}, Handlers{
		Health:    health,
		Positions: handler.NewPositionHandler(positions, testLogger()),
		Cycle:     handler.NewCycleHandler(cycle, testLogger()),
	}, testLogger())
	return r, positions
}

func do(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	healthy := handler.NewHealthHandler(testLogger()).
		WithCheck("store", func(context.Context) error { return nil })
	r, _ := newTestRouter(t, "", healthy, &fakeCycle{})

	rec := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthzDegraded(t *testing.T) {
	sick := handler.NewHealthHandler(testLogger()).
		WithCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	r, _ := newTestRouter(t, "", sick, &fakeCycle{})

	rec := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, "secret", nil, &fakeCycle{})

	rec := do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIRequiresKey(t *testing.T) {
	r, _ := newTestRouter(t, "secret", nil, &fakeCycle{})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/positions?status=OPEN", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/positions?status=OPEN",
		map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/positions?status=OPEN",
		map[string]string{"Authorization": "Bearer secret"}).Code)
}

func TestListPositions(t *testing.T) {
	r, positions := newTestRouter(t, "", nil, &fakeCycle{})
	ctx := context.Background()
	id, err := positions.Create(ctx, domain.Position{Ticker: "AAA", Status: domain.PositionStatusScreened})
	require.NoError(t, err)

	rec := do(r, http.MethodGet, "/api/positions?status=screened", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, id, body.Positions[0].ID)

	rec = do(r, http.MethodGet, "/api/positions?status=OPEN", nil)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/positions?status=bogus", nil).Code)
}

func TestHistory(t *testing.T) {
	r, positions := newTestRouter(t, "", nil, &fakeCycle{})
	_, err := positions.Create(context.Background(), domain.Position{Ticker: "AAA", Status: domain.PositionStatusScreened})
	require.NoError(t, err)

	rec := do(r, http.MethodGet, "/api/positions/aaa/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ticker":"AAA"`)
}

func TestCycleRoutes(t *testing.T) {
	cycle := &fakeCycle{}
	r, _ := newTestRouter(t, "", nil, cycle)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/cycle/last", nil).Code)

	rec := do(r, http.MethodPost, "/api/cycle/trigger", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":true`)
	rec = do(r, http.MethodPost, "/api/cycle/trigger", nil)
	assert.Contains(t, rec.Body.String(), `"queued":false`)

	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodGet, "/api/cycle/trigger", nil).Code)

	cycle.last = &pipeline.CycleReport{Dispatched: 2}
	rec = do(r, http.MethodGet, "/api/cycle/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dispatched":2`)
}
