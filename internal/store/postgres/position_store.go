package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

const uniqueViolation = "23505"

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

var positionCols = []string{
	"id", "ticker", "status", "parameters", "strategy_name", "direction",
	"target_entry_price", "stop_loss", "take_profit",
	"entry_price", "entry_date", "unit_size", "cash_size",
	"exit_price", "exit_date", "return_pct", "pnl",
	"broker_order_id", "exits_attached", "parent_id", "note", "created_at", "updated_at",
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p         domain.Position
		status    string
		direction int16
		params    []byte
		parentID  *string
	)
	err := row.Scan(
		&p.ID, &p.Ticker, &status, &params, &p.StrategyName, &direction,
		&p.TargetEntryPrice, &p.StopLoss, &p.TakeProfit,
		&p.EntryPrice, &p.EntryDate, &p.UnitSize, &p.CashSize,
		&p.ExitPrice, &p.ExitDate, &p.ReturnPct, &p.PnL,
		&p.BrokerOrderID, &p.ExitsAttached, &parentID, &p.Note, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.Direction = domain.Direction(direction)
	if parentID != nil {
		p.ParentID = *parentID
	}
	if len(params) > 0 {
		var sp domain.StrategyParameters
		if err := json.Unmarshal(params, &sp); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
		p.Parameters = &sp
	}
	return p, nil
}

func (s *PositionStore) queryPositions(ctx context.Context, b sq.SelectBuilder) ([]domain.Position, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func marshalParams(p *domain.StrategyParameters) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Create inserts pos, assigning an id when it has none.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) (string, error) {
	if !pos.Status.CanCreateWith() {
		return "", fmt.Errorf("postgres: create position for %s in %s: %w", pos.Ticker, pos.Status, domain.ErrInvalidTransition)
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	now := s.now()
	pos.CreatedAt, pos.UpdatedAt = now, now

	params, err := marshalParams(pos.Parameters)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal parameters: %w", err)
	}

	query, args, err := psql.Insert("positions").Columns(positionCols...).Values(
		pos.ID, pos.Ticker, string(pos.Status), params, pos.StrategyName, int16(pos.Direction),
		pos.TargetEntryPrice, pos.StopLoss, pos.TakeProfit,
		pos.EntryPrice, pos.EntryDate, pos.UnitSize, pos.CashSize,
		pos.ExitPrice, pos.ExitDate, pos.ReturnPct, pos.PnL,
		pos.BrokerOrderID, pos.ExitsAttached, nullableID(pos.ParentID), pos.Note, pos.CreatedAt, pos.UpdatedAt,
	).ToSql()
	if err != nil {
		return "", fmt.Errorf("postgres: build insert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("postgres: create position for %s: %w", pos.Ticker, domain.ErrAlreadyExists)
		}
		return "", fmt.Errorf("postgres: create position for %s: %w", pos.Ticker, err)
	}
	return pos.ID, nil
}

// GetByStatus returns the newest position for ticker in status.
func (s *PositionStore) GetByStatus(ctx context.Context, ticker string, status domain.PositionStatus) (domain.Position, error) {
	q := psql.Select(positionCols...).From("positions").
		Where(sq.Eq{"ticker": ticker, "status": string(status)}).
		OrderBy("created_at DESC").Limit(1)

	list, err := s.queryPositions(ctx, q)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get %s position for %s: %w", status, ticker, err)
	}
	if len(list) == 0 {
		return domain.Position{}, domain.ErrNotFound
	}
	return list[0], nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query, args, err := psql.Select(positionCols...).From("positions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Position{}, err
	}
	p, err := scanPosition(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// Update locks the row, validates patch against it and writes the result.
func (s *PositionStore) Update(ctx context.Context, id string, patch domain.PositionPatch) (domain.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query, args, err := psql.Select(positionCols...).From("positions").
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return domain.Position{}, err
	}
	p, err := scanPosition(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: lock position %s: %w", id, err)
	}

	if err := p.Apply(patch, s.now()); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: update position %s: %w", id, err)
	}
	params, err := marshalParams(p.Parameters)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: marshal parameters: %w", err)
	}

	query, args, err = psql.Update("positions").SetMap(map[string]any{
		"status":             string(p.Status),
		"parameters":         params,
		"strategy_name":      p.StrategyName,
		"direction":          int16(p.Direction),
		"target_entry_price": p.TargetEntryPrice,
		"stop_loss":          p.StopLoss,
		"take_profit":        p.TakeProfit,
		"entry_price":        p.EntryPrice,
		"entry_date":         p.EntryDate,
		"unit_size":          p.UnitSize,
		"cash_size":          p.CashSize,
		"exit_price":         p.ExitPrice,
		"exit_date":          p.ExitDate,
		"return_pct":         p.ReturnPct,
		"pnl":                p.PnL,
		"broker_order_id":    p.BrokerOrderID,
		"exits_attached":     p.ExitsAttached,
		"parent_id":          nullableID(p.ParentID),
		"note":               p.Note,
		"updated_at":         p.UpdatedAt,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Position{}, err
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Position{}, fmt.Errorf("postgres: update position %s: %w", id, domain.ErrAlreadyExists)
		}
		return domain.Position{}, fmt.Errorf("postgres: update position %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit position %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns every position in status, oldest first.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	q := psql.Select(positionCols...).From("positions").
		Where(sq.Eq{"status": string(status)}).OrderBy("created_at ASC")
	list, err := s.queryPositions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s positions: %w", status, err)
	}
	return list, nil
}

// CountActive counts primary positions of ticker in statuses.
func (s *PositionStore) CountActive(ctx context.Context, ticker string, statuses []domain.PositionStatus) (int, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query, args, err := psql.Select("COUNT(*)").From("positions").Where(sq.And{
		sq.Eq{"ticker": ticker},
		sq.Eq{"status": names},
		sq.Eq{"parent_id": nil},
	}).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count active positions for %s: %w", ticker, err)
	}
	return n, nil
}

// ListHistory returns every position of ticker, newest first.
func (s *PositionStore) ListHistory(ctx context.Context, ticker string, opts domain.ListOpts) ([]domain.Position, error) {
	q := applyListOpts(psql.Select(positionCols...).From("positions").
		Where(sq.Eq{"ticker": ticker}), "created_at", opts).OrderBy("created_at DESC")
	list, err := s.queryPositions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history for %s: %w", ticker, err)
	}
	return list, nil
}

// ListTerminal returns CLOSED and CANCELLED positions by update time.
func (s *PositionStore) ListTerminal(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	q := applyListOpts(psql.Select(positionCols...).From("positions").Where(sq.Eq{"status": []string{
		string(domain.PositionStatusClosed), string(domain.PositionStatusCancelled),
	}}), "updated_at", opts).OrderBy("updated_at ASC")
	list, err := s.queryPositions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal positions: %w", err)
	}
	return list, nil
}

func applyListOpts(b sq.SelectBuilder, col string, opts domain.ListOpts) sq.SelectBuilder {
	if opts.Since != nil {
		b = b.Where(sq.GtOrEq{col: *opts.Since})
	}
	if opts.Until != nil {
		b = b.Where(sq.Lt{col: *opts.Until})
	}
	if opts.Limit > 0 {
		b = b.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		b = b.Offset(uint64(opts.Offset))
	}
	return b
}
