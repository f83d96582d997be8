package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Lifecycle wraps the position store with the fresh-read checks every stage
// performs before it mutates a ticker's records.
type Lifecycle struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	policy    domain.ActivePolicy
	logger    *slog.Logger
}

// NewLifecycle creates a Lifecycle. audit may be nil.
func NewLifecycle(positions domain.PositionStore, audit domain.AuditStore, policy domain.ActivePolicy, logger *slog.Logger) *Lifecycle {
	if !policy.Valid() {
		policy = domain.ActivePolicyBroad
	}
	return &Lifecycle{
		positions: positions,
		audit:     audit,
		policy:    policy,
		logger:    logger.With(slog.String("component", "lifecycle")),
	}
}

// Policy returns the active-status policy in force.
func (l *Lifecycle) Policy() domain.ActivePolicy { return l.policy }

// Positions exposes the underlying store.
func (l *Lifecycle) Positions() domain.PositionStore { return l.positions }

// Find returns the latest record of ticker in status, or nil when there is
// none.
func (l *Lifecycle) Find(ctx context.Context, ticker string, status domain.PositionStatus) (*domain.Position, error) {
	p, err := l.positions.GetByStatus(ctx, ticker, status)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveExists reports whether ticker holds a primary position that is
// active under the configured policy.
func (l *Lifecycle) ActiveExists(ctx context.Context, ticker string) (bool, error) {
	n, err := l.positions.CountActive(ctx, ticker, l.policy.Statuses())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PendingExists reports whether ticker holds a SCREENED or OPTIMIZED primary.
// Pending records block new ones under either policy.
func (l *Lifecycle) PendingExists(ctx context.Context, ticker string) (bool, error) {
	n, err := l.positions.CountActive(ctx, ticker, []domain.PositionStatus{
		domain.PositionStatusScreened,
		domain.PositionStatusOptimized,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Blocked reports whether a new SCREENED or OPTIMIZED record may not be
// created for ticker.
func (l *Lifecycle) Blocked(ctx context.Context, ticker string) (bool, error) {
	active, err := l.ActiveExists(ctx, ticker)
	if err != nil || active {
		return active, err
	}
	return l.PendingExists(ctx, ticker)
}

// OptimizeBlocked reports whether a new OPTIMIZED record may not be created
// for ticker. Under the narrow policy an OPEN position does not block
// re-optimization; the dispatcher turns the result into an adjustment of it.
func (l *Lifecycle) OptimizeBlocked(ctx context.Context, ticker string) (bool, error) {
	if l.policy != domain.ActivePolicyNarrow {
		return l.Blocked(ctx, ticker)
	}
	disp, err := l.Find(ctx, ticker, domain.PositionStatusDispatched)
	if err != nil || disp != nil {
		return disp != nil, err
	}
	return l.PendingExists(ctx, ticker)
}

// Create persists pos and records the event in the audit log.
func (l *Lifecycle) Create(ctx context.Context, pos domain.Position) (domain.Position, error) {
	id, err := l.positions.Create(ctx, pos)
	if err != nil {
		return domain.Position{}, err
	}
	pos.ID = id
	l.record(ctx, "position_created", pos, "")
	return pos, nil
}

// Transition moves pos to next applying patch. The store rejects the update
// when the stored status no longer matches pos.Status.
func (l *Lifecycle) Transition(ctx context.Context, pos domain.Position, next domain.PositionStatus, patch domain.PositionPatch) (domain.Position, error) {
	patch.ExpectStatus = pos.Status
	event := "position_updated"
	if next != pos.Status {
		patch.Status = domain.Ptr(next)
		event = "position_" + strings.ToLower(string(next))
	}
	out, err := l.positions.Update(ctx, pos.ID, patch)
	if err != nil {
		return domain.Position{}, err
	}
	l.record(ctx, event, out, pos.Status)
	return out, nil
}

// Cancel moves pos to CANCELLED with note.
func (l *Lifecycle) Cancel(ctx context.Context, pos domain.Position, note string) (domain.Position, error) {
	return l.Transition(ctx, pos, domain.PositionStatusCancelled, domain.PositionPatch{Note: domain.Ptr(note)})
}

// VerifyTicker checks the one-active-position invariant for ticker.
func (l *Lifecycle) VerifyTicker(ctx context.Context, ticker string) error {
	n, err := l.positions.CountActive(ctx, ticker, l.policy.Statuses())
	if err != nil {
		return fmt.Errorf("lifecycle: count active %s: %w", ticker, err)
	}
	if n > 1 {
		return domain.NewInvariantError(domain.ErrActivePositionExists, ticker, "")
	}
	return nil
}

// Verify checks the invariant for every ticker and returns the first
// violation.
func (l *Lifecycle) Verify(ctx context.Context, tickers []string) error {
	for _, t := range tickers {
		if err := l.VerifyTicker(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Tickers returns the distinct tickers holding a record in any of statuses,
// in first-seen order.
func (l *Lifecycle) Tickers(ctx context.Context, statuses ...domain.PositionStatus) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, st := range statuses {
		list, err := l.positions.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			if !seen[p.Ticker] {
				seen[p.Ticker] = true
				out = append(out, p.Ticker)
			}
		}
	}
	return out, nil
}

func (l *Lifecycle) record(ctx context.Context, event string, pos domain.Position, from domain.PositionStatus) {
	l.logger.InfoContext(ctx, event,
		slog.String("ticker", pos.Ticker),
		slog.String("position_id", pos.ID),
		slog.String("status", string(pos.Status)),
	)
	if l.audit == nil {
		return
	}
	detail := map[string]any{
		"position_id": pos.ID,
		"ticker":      pos.Ticker,
		"status":      string(pos.Status),
	}
	if from != "" {
		detail["from"] = string(from)
	}
	if pos.ParentID != "" {
		detail["parent_id"] = pos.ParentID
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
