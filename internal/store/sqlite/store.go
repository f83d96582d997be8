// Package sqlite implements the position and audit stores on SQLite via
// gorm, for single-host paper trading and tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// partialIndexes mirror the uniqueness rules of the PostgreSQL schema.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS positions_one_exposed_per_ticker
		ON positions (ticker)
		WHERE parent_id IS NULL AND status IN ('DISPATCHED', 'OPEN')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS positions_one_dispatched_per_ticker
		ON positions (ticker)
		WHERE status = 'DISPATCHED'`,
}

// DB owns the gorm handle shared by the stores.
type DB struct {
	db *gorm.DB
}

// MemoryDSN returns a DSN for a named in-memory database shared by every
// connection of the process.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(dsn string) (*DB, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: underlying db: %w", err)
	}
	// SQLite serialises writers; one connection keeps transactions simple.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&positionRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("sqlite: create index: %w", err)
		}
	}
	return &DB{db: db}, nil
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
