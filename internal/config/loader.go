package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADECYCLE_* environment variable overrides, and
// returns the final Config. An empty path skips the file so a deployment can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADECYCLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Stores ──
	setStr(&cfg.Store.Driver, "TRADECYCLE_STORE_DRIVER")
	setStr(&cfg.Postgres.DSN, "TRADECYCLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADECYCLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECYCLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECYCLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECYCLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECYCLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECYCLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADECYCLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADECYCLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADECYCLE_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "TRADECYCLE_SQLITE_PATH")
	setStr(&cfg.DuckDB.Path, "TRADECYCLE_DUCKDB_PATH")

	// ── Polygon ──
	setStr(&cfg.Polygon.APIKey, "TRADECYCLE_POLYGON_API_KEY")
	setStr(&cfg.Polygon.APIKey, "POLYGON_API_KEY") // compatibility alias
	setDuration(&cfg.Polygon.Backfill, "TRADECYCLE_POLYGON_BACKFILL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADECYCLE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADECYCLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECYCLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECYCLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECYCLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADECYCLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADECYCLE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TRADECYCLE_REDIS_KEY_PREFIX")
	setStr(&cfg.Redis.Stream, "TRADECYCLE_REDIS_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADECYCLE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADECYCLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECYCLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECYCLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECYCLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECYCLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECYCLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECYCLE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "TRADECYCLE_S3_PREFIX")

	// ── Broker ──
	setStr(&cfg.Broker.Kind, "TRADECYCLE_BROKER_KIND")
	setStr(&cfg.Binance.APIKey, "TRADECYCLE_BINANCE_API_KEY")
	setStr(&cfg.Binance.SecretKey, "TRADECYCLE_BINANCE_SECRET_KEY")
	setStr(&cfg.Binance.BaseURL, "TRADECYCLE_BINANCE_BASE_URL")
	setBool(&cfg.Binance.Testnet, "TRADECYCLE_BINANCE_TESTNET")
	setStr(&cfg.Binance.QuoteAsset, "TRADECYCLE_BINANCE_QUOTE_ASSET")
	setFloat64(&cfg.Binance.StopLimitSlippage, "TRADECYCLE_BINANCE_STOP_LIMIT_SLIPPAGE")
	setFloat64(&cfg.Binance.DustQty, "TRADECYCLE_BINANCE_DUST_QTY")
	setFloat64(&cfg.Paper.Cash, "TRADECYCLE_PAPER_CASH")

	// ── Cycle stages ──
	setStr(&cfg.Universe.File, "TRADECYCLE_UNIVERSE_FILE")
	setStringSlice(&cfg.Universe.Tickers, "TRADECYCLE_UNIVERSE_TICKERS")
	setInt(&cfg.Screener.Workers, "TRADECYCLE_SCREENER_WORKERS")
	setInt(&cfg.Screener.Lookback, "TRADECYCLE_SCREENER_LOOKBACK")
	setFloat64(&cfg.Screener.MinDollarVolume, "TRADECYCLE_SCREENER_MIN_DOLLAR_VOLUME")
	setFloat64(&cfg.Screener.MinEfficiency, "TRADECYCLE_SCREENER_MIN_EFFICIENCY")
	setInt(&cfg.Optimizer.Workers, "TRADECYCLE_OPTIMIZER_WORKERS")
	setInt(&cfg.Optimizer.Window, "TRADECYCLE_OPTIMIZER_WINDOW")
	setStr(&cfg.Optimizer.Objective, "TRADECYCLE_OPTIMIZER_OBJECTIVE")
	setStr(&cfg.Optimizer.SpecDir, "TRADECYCLE_OPTIMIZER_SPEC_DIR")
	setStringSlice(&cfg.Optimizer.Tickers, "TRADECYCLE_OPTIMIZER_TICKERS")
	setStr(&cfg.Optimizer.Strategy, "TRADECYCLE_OPTIMIZER_STRATEGY")
	setInt(&cfg.Dispatcher.Window, "TRADECYCLE_DISPATCHER_WINDOW")
	setInt(&cfg.Dispatcher.ATRWindow, "TRADECYCLE_DISPATCHER_ATR_WINDOW")
	setFloat64(&cfg.Dispatcher.StopLossMultiple, "TRADECYCLE_DISPATCHER_STOP_LOSS_MULTIPLE")
	setFloat64(&cfg.Dispatcher.TakeProfitMultiple, "TRADECYCLE_DISPATCHER_TAKE_PROFIT_MULTIPLE")
	setBool(&cfg.Dispatcher.AdjustOpen, "TRADECYCLE_DISPATCHER_ADJUST_OPEN")
	setFloat64(&cfg.Orders.Allocation, "TRADECYCLE_ORDERS_ALLOCATION")
	setFloat64(&cfg.Orders.QtyStep, "TRADECYCLE_ORDERS_QTY_STEP")
	setDuration(&cfg.Orders.MaxPending, "TRADECYCLE_ORDERS_MAX_PENDING")
	setStr(&cfg.Invariants.ActivePolicy, "TRADECYCLE_INVARIANTS_ACTIVE_POLICY")
	setDuration(&cfg.Cycle.Interval, "TRADECYCLE_CYCLE_INTERVAL")
	setDuration(&cfg.Cycle.LockTTL, "TRADECYCLE_CYCLE_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECYCLE_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "TRADECYCLE_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "TRADECYCLE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECYCLE_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "TRADECYCLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECYCLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADECYCLE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADECYCLE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
