package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

type positionRow struct {
	ID               string `gorm:"primaryKey"`
	Ticker           string `gorm:"index:idx_positions_ticker_status,priority:1;not null"`
	Status           string `gorm:"index:idx_positions_ticker_status,priority:2;not null"`
	Parameters       []byte
	StrategyName     string
	Direction        int
	TargetEntryPrice float64
	StopLoss         float64
	TakeProfit       float64
	EntryPrice       float64
	EntryDate        *time.Time
	UnitSize         float64
	CashSize         float64
	ExitPrice        float64
	ExitDate         *time.Time
	ReturnPct        float64
	PnL              float64 `gorm:"column:pnl"`
	BrokerOrderID    string
	ExitsAttached    bool
	ParentID         *string `gorm:"index"`
	Note             string
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"index;autoUpdateTime:false"`
}

func (positionRow) TableName() string { return "positions" }

func toRow(p domain.Position) (positionRow, error) {
	r := positionRow{
		ID:               p.ID,
		Ticker:           p.Ticker,
		Status:           string(p.Status),
		StrategyName:     p.StrategyName,
		Direction:        int(p.Direction),
		TargetEntryPrice: p.TargetEntryPrice,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		EntryPrice:       p.EntryPrice,
		EntryDate:        p.EntryDate,
		UnitSize:         p.UnitSize,
		CashSize:         p.CashSize,
		ExitPrice:        p.ExitPrice,
		ExitDate:         p.ExitDate,
		ReturnPct:        p.ReturnPct,
		PnL:              p.PnL,
		BrokerOrderID:    p.BrokerOrderID,
		ExitsAttached:    p.ExitsAttached,
		Note:             p.Note,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.ParentID != "" {
		r.ParentID = &p.ParentID
	}
	if p.Parameters != nil {
		b, err := json.Marshal(p.Parameters)
		if err != nil {
			return positionRow{}, err
		}
		r.Parameters = b
	}
	return r, nil
}

func (r positionRow) toDomain() (domain.Position, error) {
	p := domain.Position{
		ID:               r.ID,
		Ticker:           r.Ticker,
		Status:           domain.PositionStatus(r.Status),
		StrategyName:     r.StrategyName,
		Direction:        domain.Direction(r.Direction),
		TargetEntryPrice: r.TargetEntryPrice,
		StopLoss:         r.StopLoss,
		TakeProfit:       r.TakeProfit,
		EntryPrice:       r.EntryPrice,
		EntryDate:        r.EntryDate,
		UnitSize:         r.UnitSize,
		CashSize:         r.CashSize,
		ExitPrice:        r.ExitPrice,
		ExitDate:         r.ExitDate,
		ReturnPct:        r.ReturnPct,
		PnL:              r.PnL,
		BrokerOrderID:    r.BrokerOrderID,
		ExitsAttached:    r.ExitsAttached,
		Note:             r.Note,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ParentID != nil {
		p.ParentID = *r.ParentID
	}
	if len(r.Parameters) > 0 {
		var sp domain.StrategyParameters
		if err := json.Unmarshal(r.Parameters, &sp); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
		p.Parameters = &sp
	}
	return p, nil
}

func toDomainList(rows []positionRow) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PositionStore implements domain.PositionStore with gorm.
type PositionStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore returns a PositionStore on d.
func NewPositionStore(d *DB) *PositionStore {
	return &PositionStore{db: d.db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts pos, assigning an id when it has none. The partial unique
// indexes reject a second exposed or dispatched record with
// domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) (string, error) {
	if !pos.Status.CanCreateWith() {
		return "", fmt.Errorf("sqlite: create position for %s in %s: %w", pos.Ticker, pos.Status, domain.ErrInvalidTransition)
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	now := s.now()
	pos.CreatedAt, pos.UpdatedAt = now, now

	row, err := toRow(pos)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode position: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("sqlite: create position for %s: %w", pos.Ticker, domain.ErrAlreadyExists)
		}
		return "", fmt.Errorf("sqlite: create position for %s: %w", pos.Ticker, err)
	}
	return pos.ID, nil
}

// GetByStatus returns the most recently created position of ticker in
// status, or domain.ErrNotFound.
func (s *PositionStore) GetByStatus(ctx context.Context, ticker string, status domain.PositionStatus) (domain.Position, error) {
	var row positionRow
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND status = ?", ticker, string(status)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get %s position for %s: %w", status, ticker, err)
	}
	return row.toDomain()
}

// GetByID returns the position with id, or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	var row positionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return row.toDomain()
}

// Update applies patch to the position with id inside a transaction. A
// stale ExpectStatus fails with domain.ErrStaleStatus.
func (s *PositionStore) Update(ctx context.Context, id string, patch domain.PositionPatch) (domain.Position, error) {
	var out domain.Position
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row positionRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		p, err := row.toDomain()
		if err != nil {
			return err
		}
		if err := p.Apply(patch, s.now()); err != nil {
			return err
		}
		next, err := toRow(p)
		if err != nil {
			return err
		}
		if err := tx.Save(&next).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: update position %s: %w", id, err)
	}
	return out, nil
}

// ListByStatus returns every position in status, oldest first.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	var rows []positionRow
	if err := s.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list %s positions: %w", status, err)
	}
	return toDomainList(rows)
}

// CountActive counts the primary positions of ticker in any of statuses.
// Adjustments are not counted.
func (s *PositionStore) CountActive(ctx context.Context, ticker string, statuses []domain.PositionStatus) (int, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&positionRow{}).
		Where("ticker = ? AND status IN ? AND parent_id IS NULL", ticker, names).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("sqlite: count active positions for %s: %w", ticker, err)
	}
	return int(n), nil
}

// ListHistory returns every record of ticker, newest first.
func (s *PositionStore) ListHistory(ctx context.Context, ticker string, opts domain.ListOpts) ([]domain.Position, error) {
	var rows []positionRow
	q := listScope(s.db.WithContext(ctx).Where("ticker = ?", ticker), "created_at", opts)
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list position history for %s: %w", ticker, err)
	}
	return toDomainList(rows)
}

// ListTerminal returns CLOSED and CANCELLED positions by update time, oldest
// first.
func (s *PositionStore) ListTerminal(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	var rows []positionRow
	q := listScope(s.db.WithContext(ctx).Where("status IN ?", []string{
		string(domain.PositionStatusClosed), string(domain.PositionStatusCancelled),
	}), "updated_at", opts)
	if err := q.Order("updated_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list terminal positions: %w", err)
	}
	return toDomainList(rows)
}

func listScope(q *gorm.DB, col string, opts domain.ListOpts) *gorm.DB {
	if opts.Since != nil {
		q = q.Where(col+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q = q.Where(col+" < ?", *opts.Until)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}
