package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moznion/go-optional"

	"github.com/alanyoungcy/tradecycle/internal/broker/paper"
)

// The paper account is a single row.
const paperAccountID = 1

var _ paper.StateStore = (*Store)(nil)

// LoadPaperAccount returns the saved paper account, or None before the first
// save.
func (s *Store) LoadPaperAccount(ctx context.Context) (optional.Option[[]byte], error) {
	query, args, err := s.sq.Select("state").From("paper_account").
		Where("id = ?", paperAccountID).ToSql()
	if err != nil {
		return optional.None[[]byte](), err
	}
	var state string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return optional.None[[]byte](), nil
		}
		return optional.None[[]byte](), fmt.Errorf("duckdb: load paper account: %w", err)
	}
	return optional.Some([]byte(state)), nil
}

// SavePaperAccount replaces the saved paper account.
func (s *Store) SavePaperAccount(ctx context.Context, state []byte) error {
	query, args, err := s.sq.Insert("paper_account").Options("OR REPLACE").
		Columns("id", "state", "updated_at").
		Values(paperAccountID, string(state), time.Now().UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("duckdb: save paper account: %w", err)
	}
	return nil
}
