package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Every read goes to the backing store;
// callers rely on that for their invariant checks.
type PositionStore interface {
	// Create persists pos and returns the assigned id.
	Create(ctx context.Context, pos Position) (string, error)
	// GetByStatus returns the most recent position for ticker in status, or
	// ErrNotFound.
	GetByStatus(ctx context.Context, ticker string, status PositionStatus) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	// Update applies patch atomically and returns the stored result.
	Update(ctx context.Context, id string, patch PositionPatch) (Position, error)
	ListByStatus(ctx context.Context, status PositionStatus) ([]Position, error)
	// CountActive counts primary (non-adjustment) positions of ticker whose
	// status is in statuses.
	CountActive(ctx context.Context, ticker string, statuses []PositionStatus) (int, error)
	ListHistory(ctx context.Context, ticker string, opts ListOpts) ([]Position, error)
	// ListTerminal returns CLOSED and CANCELLED positions updated in
	// [opts.Since, opts.Until).
	ListTerminal(ctx context.Context, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PriceProvider serves end-of-day bars.
type PriceProvider interface {
	// GetPriceSeries returns up to window most recent bars, oldest first.
	GetPriceSeries(ctx context.Context, ticker string, window int) ([]Bar, error)
}

// BarWriter persists bars fetched from an upstream vendor.
type BarWriter interface {
	UpsertBars(ctx context.Context, bars []Bar) error
}
