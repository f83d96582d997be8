package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/pipeline"
	"github.com/alanyoungcy/tradecycle/internal/service"
)

func TestExitCode(t *testing.T) {
	var w bytes.Buffer
	assert.Equal(t, 0, exitCode(nil, &w))
	assert.Equal(t, 0, exitCode(fmt.Errorf("run: %w", context.Canceled), &w))
	assert.Empty(t, w.String())

	assert.Equal(t, 1, exitCode(errors.New("boom"), &w))
	assert.Equal(t, "fatal: boom\n", w.String())

	w.Reset()
	ie := domain.NewInvariantError(domain.ErrOpenPositionAlreadyExists, "AAPL", domain.PositionStatusOpen)
	assert.Equal(t, 2, exitCode(fmt.Errorf("cycle: dispatch: %w", ie), &w))
	assert.Contains(t, w.String(), "fatal: ")
	assert.Contains(t, w.String(), "for AAPL (status OPEN)")
}

func TestPrintReport(t *testing.T) {
	var w bytes.Buffer
	printReport(&w, pipeline.CycleReport{
		Screen:     service.ScreenReport{Passed: 2, Rejected: 5},
		Dispatched: 1,
		Reconcile: service.ReconcileReport{Actions: map[service.Action]int{
			service.ActionSubmitted: 1,
			service.ActionClosed:    3,
		}},
		Stage: pipeline.StageReconcile,
		Error: "cycle: reconcile: broker down",
	})
	out := w.String()
	assert.Contains(t, out, "passed 2, rejected 5")
	assert.Contains(t, out, "dispatch:  1")
	assert.Contains(t, out, "reconcile: closed 3, submitted 1, failed 0")
	assert.Contains(t, out, "stopped at reconcile: cycle: reconcile: broker down")

	w.Reset()
	printReport(&w, pipeline.CycleReport{Skipped: true})
	assert.Equal(t, "skipped: cycle lock is held elsewhere\n", w.String())
}

func TestReconcileCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADECYCLE_SQLITE_PATH", filepath.Join(dir, "tradecycle.db"))
	t.Setenv("TRADECYCLE_DUCKDB_PATH", filepath.Join(dir, "bars.duckdb"))
	t.Setenv("TRADECYCLE_SERVER_ENABLED", "false")

	var out bytes.Buffer
	err := newCommand(&out).Run(context.Background(), []string{"tradecycle", "reconcile"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "reconcile: failed 0")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("TRADECYCLE_BROKER_KIND", "ib")

	err := newCommand(&bytes.Buffer{}).Run(context.Background(), []string{"tradecycle", "screen"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `broker: unknown kind "ib"`)
}
