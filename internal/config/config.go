// Package config defines the top-level configuration for tradecycle and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecycle/internal/backtest"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADECYCLE_* environment variables.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	DuckDB     DuckDBConfig     `toml:"duckdb"`
	Polygon    PolygonConfig    `toml:"polygon"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Broker     BrokerConfig     `toml:"broker"`
	Binance    BinanceConfig    `toml:"binance"`
	Paper      PaperConfig      `toml:"paper"`
	Universe   UniverseConfig   `toml:"universe"`
	Screener   ScreenerConfig   `toml:"screener"`
	Optimizer  OptimizerConfig  `toml:"optimizer"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Orders     OrdersConfig     `toml:"orders"`
	Invariants InvariantsConfig `toml:"invariants"`
	Cycle      CycleConfig      `toml:"cycle"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// StoreConfig selects the position and audit store backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "postgres" or "sqlite"
}

// PostgresConfig holds PostgreSQL connection parameters. DSN takes precedence
// over the individual fields when set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local store path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// DuckDBConfig holds the bar store path.
type DuckDBConfig struct {
	Path string `toml:"path"`
}

// PolygonConfig holds the market data vendor credentials used by refresh.
type PolygonConfig struct {
	APIKey   string   `toml:"api_key"`
	Backfill duration `toml:"backfill"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: when
// disabled the cycle runs with an in-process lock and no event mirror.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	Stream     string `toml:"stream"`
}

// S3Config holds S3-compatible object storage parameters for optimization
// reports and daily archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// BrokerConfig selects the broker implementation.
type BrokerConfig struct {
	Kind string `toml:"kind"` // "paper" or "binance"
}

// BinanceConfig holds Binance spot credentials and order formatting.
type BinanceConfig struct {
	APIKey            string  `toml:"api_key"`
	SecretKey         string  `toml:"secret_key"`
	BaseURL           string  `toml:"base_url"`
	Testnet           bool    `toml:"testnet"`
	QuoteAsset        string  `toml:"quote_asset"`
	QtyPrecision      int     `toml:"qty_precision"`
	PricePrecision    int     `toml:"price_precision"`
	StopLimitSlippage float64 `toml:"stop_limit_slippage"`
	DustQty           float64 `toml:"dust_qty"`
}

// PaperConfig holds the simulated account.
type PaperConfig struct {
	Cash float64 `toml:"cash"`
}

// UniverseConfig names the tickers considered each cycle. File is a YAML
// document; Tickers are appended to whatever the file lists.
type UniverseConfig struct {
	File    string   `toml:"file"`
	Tickers []string `toml:"tickers"`
}

// ScreenerConfig tunes the liquidity and trend filters.
type ScreenerConfig struct {
	Workers         int     `toml:"workers"`
	Lookback        int     `toml:"lookback"`
	MinDollarVolume float64 `toml:"min_dollar_volume"`
	MinEfficiency   float64 `toml:"min_efficiency"`
}

// OptimizerConfig tunes the parameter search.
type OptimizerConfig struct {
	Workers    int      `toml:"workers"`
	Window     int      `toml:"window"`
	Objective  string   `toml:"objective"`
	SpecDir    string   `toml:"spec_dir"`
	Tickers    []string `toml:"tickers"`
	Strategy   string   `toml:"strategy"`
	Cash       float64  `toml:"cash"`
	Commission float64  `toml:"commission"`
}

// DispatcherConfig tunes signal evaluation and bracket sizing.
type DispatcherConfig struct {
	Window             int     `toml:"window"`
	ATRWindow          int     `toml:"atr_window"`
	StopLossMultiple   float64 `toml:"stop_loss_multiple"`
	TakeProfitMultiple float64 `toml:"take_profit_multiple"`
	AdjustOpen         bool    `toml:"adjust_open"`
}

// OrdersConfig tunes order sizing and the pending-entry timeout.
type OrdersConfig struct {
	Allocation float64  `toml:"allocation"`
	QtyStep    float64  `toml:"qty_step"`
	MaxPending duration `toml:"max_pending"`
}

// InvariantsConfig selects which statuses count as active for the
// one-active-position-per-ticker rule.
type InvariantsConfig struct {
	ActivePolicy string `toml:"active_policy"` // "broad" or "narrow"
}

// CycleConfig controls the scheduled cycle in run mode.
type CycleConfig struct {
	Interval duration `toml:"interval"`
	LockKey  string   `toml:"lock_key"`
	LockTTL  duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the health/metrics/API server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Driver: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecycle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "data/tradecycle.db"},
		DuckDB: DuckDBConfig{Path: "data/bars.duckdb"},
		Polygon: PolygonConfig{
			Backfill: duration{5 * 365 * 24 * time.Hour},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "tradecycle:",
			Stream:     "signals",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecycle",
			ForcePathStyle: true,
		},
		Broker: BrokerConfig{Kind: "paper"},
		Binance: BinanceConfig{
			QuoteAsset:        "USDT",
			QtyPrecision:      5,
			PricePrecision:    2,
			StopLimitSlippage: 0.005,
			DustQty:           0.00001,
		},
		Paper: PaperConfig{Cash: 100_000},
		Screener: ScreenerConfig{
			Lookback:        60,
			MinDollarVolume: 5_000_000,
			MinEfficiency:   0.2,
		},
		Optimizer: OptimizerConfig{
			Window:     500,
			Objective:  string(backtest.ObjectiveTotalReturn),
			Cash:       10_000,
			Commission: 0.001,
		},
		Dispatcher: DispatcherConfig{
			Window:             200,
			ATRWindow:          14,
			StopLossMultiple:   2,
			TakeProfitMultiple: 3,
		},
		Orders: OrdersConfig{
			Allocation: 0.1,
			QtyStep:    1,
			MaxPending: duration{24 * time.Hour},
		},
		Invariants: InvariantsConfig{ActivePolicy: "broad"},
		Cycle: CycleConfig{
			Interval: duration{24 * time.Hour},
			LockKey:  "cycle",
			LockTTL:  duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Notify: NotifyConfig{
			DiscordUsername: "tradecycle",
			Events:          []string{"invariant_violation", "cycle_failed", "position_dispatched"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}

	if c.DuckDB.Path == "" {
		errs = append(errs, "duckdb: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, "s3: access_key and secret_key must be set together")
		}
	}

	// Broker
	switch c.Broker.Kind {
	case "paper":
		if c.Paper.Cash <= 0 {
			errs = append(errs, "paper: cash must be > 0")
		}
	case "binance":
		if c.Binance.APIKey == "" || c.Binance.SecretKey == "" {
			errs = append(errs, "binance: api_key and secret_key are required")
		}
		if c.Binance.QuoteAsset == "" {
			errs = append(errs, "binance: quote_asset must not be empty")
		}
		if c.Binance.StopLimitSlippage < 0 || c.Binance.StopLimitSlippage >= 1 {
			errs = append(errs, "binance: stop_limit_slippage must be in [0, 1)")
		}
	default:
		errs = append(errs, fmt.Sprintf("broker: unknown kind %q (valid: paper, binance)", c.Broker.Kind))
	}

	// Screener
	if c.Screener.Workers < 0 {
		errs = append(errs, "screener: workers must be >= 0")
	}
	if c.Screener.Lookback < 2 {
		errs = append(errs, "screener: lookback must be >= 2")
	}
	if c.Screener.MinDollarVolume < 0 {
		errs = append(errs, "screener: min_dollar_volume must be >= 0")
	}

	// Optimizer
	if c.Optimizer.Workers < 0 {
		errs = append(errs, "optimizer: workers must be >= 0")
	}
	if c.Optimizer.Window < 2 {
		errs = append(errs, "optimizer: window must be >= 2")
	}
	if _, err := backtest.ParseObjective(c.Optimizer.Objective); err != nil {
		errs = append(errs, "optimizer: "+err.Error())
	}
	if c.Optimizer.Cash <= 0 {
		errs = append(errs, "optimizer: cash must be > 0")
	}
	if c.Optimizer.Commission < 0 {
		errs = append(errs, "optimizer: commission must be >= 0")
	}

	// Dispatcher
	if c.Dispatcher.Window < 2 {
		errs = append(errs, "dispatcher: window must be >= 2")
	}
	if c.Dispatcher.ATRWindow < 1 {
		errs = append(errs, "dispatcher: atr_window must be >= 1")
	}
	if c.Dispatcher.StopLossMultiple <= 0 || c.Dispatcher.TakeProfitMultiple <= 0 {
		errs = append(errs, "dispatcher: stop_loss_multiple and take_profit_multiple must be > 0")
	}

	// Orders
	if c.Orders.Allocation <= 0 || c.Orders.Allocation > 1 {
		errs = append(errs, fmt.Sprintf("orders: allocation must be in (0, 1], got %g", c.Orders.Allocation))
	}
	if c.Orders.QtyStep <= 0 {
		errs = append(errs, "orders: qty_step must be > 0")
	}
	if c.Orders.MaxPending.Duration < 0 {
		errs = append(errs, "orders: max_pending must be >= 0")
	}

	if c.Invariants.ActivePolicy != "broad" && c.Invariants.ActivePolicy != "narrow" {
		errs = append(errs, fmt.Sprintf("invariants: unknown active_policy %q (valid: broad, narrow)", c.Invariants.ActivePolicy))
	}

	// Cycle
	if c.Cycle.Interval.Duration <= 0 {
		errs = append(errs, "cycle: interval must be > 0")
	}
	if c.Cycle.LockTTL.Duration <= 0 {
		errs = append(errs, "cycle: lock_ttl must be > 0")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty when enabled")
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
