// Package duckdb stores end-of-day bars in a DuckDB file and serves them as
// price series.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS bars (
	ticker TEXT      NOT NULL,
	time   TIMESTAMP NOT NULL,
	open   DOUBLE    NOT NULL,
	high   DOUBLE    NOT NULL,
	low    DOUBLE    NOT NULL,
	close  DOUBLE    NOT NULL,
	volume DOUBLE    NOT NULL,
	PRIMARY KEY (ticker, time)
)`, `
CREATE TABLE IF NOT EXISTS paper_account (
	id         INTEGER   PRIMARY KEY,
	state      TEXT      NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`}

// Store is a DuckDB-backed bar store.
type Store struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

var (
	_ domain.PriceProvider = (*Store)(nil)
	_ domain.BarWriter     = (*Store)(nil)
)

// Open opens the DuckDB database at path ("" for in-memory) and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open %s: %w", path, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("duckdb: create schema: %w", err)
		}
	}
	return &Store{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetPriceSeries returns up to window most recent bars of ticker, oldest
// first.
func (s *Store) GetPriceSeries(ctx context.Context, ticker string, window int) ([]domain.Bar, error) {
	q := s.sq.Select("ticker", "time", "open", "high", "low", "close", "volume").
		From("bars").
		Where(squirrel.Eq{"ticker": ticker}).
		OrderBy("time DESC")
	if window > 0 {
		q = q.Limit(uint64(window))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Ticker, &b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("duckdb: scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: iterate bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("duckdb: no bars for %s: %w", ticker, domain.ErrInsufficientData)
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// GetLastRecordDate returns the time of the newest bar of ticker, or None
// when the ticker has no bars.
func (s *Store) GetLastRecordDate(ctx context.Context, ticker string) (optional.Option[time.Time], error) {
	query, args, err := s.sq.Select("MAX(time)").From("bars").Where(squirrel.Eq{"ticker": ticker}).ToSql()
	if err != nil {
		return optional.None[time.Time](), err
	}
	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return optional.None[time.Time](), nil
		}
		return optional.None[time.Time](), fmt.Errorf("duckdb: last record for %s: %w", ticker, err)
	}
	if !last.Valid {
		return optional.None[time.Time](), nil
	}
	return optional.Some(last.Time.UTC()), nil
}

// UpsertBars inserts bars, replacing any with the same ticker and time.
func (s *Store) UpsertBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	q := s.sq.Insert("bars").Options("OR REPLACE").
		Columns("ticker", "time", "open", "high", "low", "close", "volume")
	for _, b := range bars {
		q = q.Values(b.Ticker, b.Time.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("duckdb: upsert %d bars: %w", len(bars), err)
	}
	return nil
}

// Tickers lists every ticker with stored bars.
func (s *Store) Tickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT ticker FROM bars ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("duckdb: list tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("duckdb: scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
