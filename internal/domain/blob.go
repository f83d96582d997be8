package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// OptimizationReport summarises one optimizer run for a ticker.
type OptimizationReport struct {
	Ticker     string                 `json:"ticker"`
	Objective  string                 `json:"objective"`
	Best       *StrategyParameters    `json:"best,omitempty"`
	Strategies []StrategySearchResult `json:"strategies"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration_ns"`
}

// StrategySearchResult is the per-strategy part of an OptimizationReport.
type StrategySearchResult struct {
	Strategy  string             `json:"strategy"`
	Evaluated int                `json:"evaluated"`
	Failed    int                `json:"failed"`
	Best      map[string]float64 `json:"best,omitempty"`
	Score     float64            `json:"score"`
	Error     string             `json:"error,omitempty"`
}

// ReportSink receives optimization reports.
type ReportSink interface {
	WriteReport(ctx context.Context, report OptimizationReport) error
}

// Archiver copies one UTC day of lifecycle history to cold storage and
// returns the number of records written.
type Archiver interface {
	ArchivePositions(ctx context.Context, day time.Time) (int, error)
	ArchiveAudit(ctx context.Context, day time.Time) (int, error)
}
