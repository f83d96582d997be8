package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alanyoungcy/tradecycle/internal/backtest"
	s3blob "github.com/alanyoungcy/tradecycle/internal/blob/s3"
	"github.com/alanyoungcy/tradecycle/internal/bracket"
	"github.com/alanyoungcy/tradecycle/internal/broker/binance"
	"github.com/alanyoungcy/tradecycle/internal/broker/paper"
	"github.com/alanyoungcy/tradecycle/internal/cache/redis"
	"github.com/alanyoungcy/tradecycle/internal/config"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/eventbus"
	"github.com/alanyoungcy/tradecycle/internal/marketdata/duckdb"
	"github.com/alanyoungcy/tradecycle/internal/notify"
	"github.com/alanyoungcy/tradecycle/internal/pipeline"
	"github.com/alanyoungcy/tradecycle/internal/server/handler"
	"github.com/alanyoungcy/tradecycle/internal/service"
	"github.com/alanyoungcy/tradecycle/internal/store/postgres"
	"github.com/alanyoungcy/tradecycle/internal/store/sqlite"
	"github.com/alanyoungcy/tradecycle/internal/strategy"
)

// Dependencies bundles everything the commands need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Audit     domain.AuditStore
	Bars      *duckdb.Store

	// Optional infrastructure; nil when disabled.
	Locker   domain.LockManager
	Stream   domain.EventStream
	Reports  domain.ReportSink
	Archiver domain.Archiver

	Broker   domain.Broker
	Bus      *eventbus.Bus
	Notifier *notify.Notifier
	Health   *handler.HealthHandler
	Universe []string

	// Services
	Lifecycle  *service.Lifecycle
	Screener   *service.Screener
	Optimizer  *service.Optimizer
	Dispatcher *service.Dispatcher
	Orders     *service.OrderManager
	Cycle      *pipeline.Cycle
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Bus:    eventbus.New(logger),
		Health: handler.NewHealthHandler(logger),
	}

	// --- Position and audit store ---
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Positions = postgres.NewPositionStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Health.WithCheck("store", pg.Ping)
	default:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Positions = sqlite.NewPositionStore(db)
		deps.Audit = sqlite.NewAuditStore(db)
		deps.Health.WithCheck("store", db.Ping)
	}
	logger.InfoContext(ctx, "store ready", slog.String("driver", cfg.Store.Driver))

	// --- Bar store ---
	if dir := filepath.Dir(cfg.DuckDB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(fmt.Errorf("wire: duckdb dir: %w", err))
		}
	}
	bars, err := duckdb.Open(ctx, cfg.DuckDB.Path)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, func() { _ = bars.Close() })
	deps.Bars = bars

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Locker = redis.NewLockManager(rc, logger)
		deps.Stream = redis.NewEventStream(rc)
		deps.Health.WithCheck("redis", rc.Ping)
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 (optional) ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = sc.Close() })
		w := s3blob.NewWriter(sc)
		deps.Reports = s3blob.NewReportSink(w)
		deps.Archiver = s3blob.NewArchiver(w, deps.Positions, deps.Audit, logger)
		deps.Health.WithCheck("s3", sc.Health)
		logger.InfoContext(ctx, "s3 ready", slog.String("bucket", sc.Bucket()))
	}

	// --- Broker ---
	switch cfg.Broker.Kind {
	case "binance":
		deps.Broker = binance.New(binance.Config{
			APIKey:            cfg.Binance.APIKey,
			SecretKey:         cfg.Binance.SecretKey,
			BaseURL:           cfg.Binance.BaseURL,
			Testnet:           cfg.Binance.Testnet,
			QuoteAsset:        cfg.Binance.QuoteAsset,
			QtyPrecision:      int32(cfg.Binance.QtyPrecision),
			PricePrecision:    int32(cfg.Binance.PricePrecision),
			StopLimitSlippage: cfg.Binance.StopLimitSlippage,
			DustQty:           cfg.Binance.DustQty,
		})
	default:
		pb, err := paper.Open(ctx, bars, bars, cfg.Paper.Cash)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Broker = pb
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			return fail(fmt.Errorf("wire: telegram: %w", err))
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Universe ---
	deps.Universe, err = config.LoadUniverse(cfg.Universe)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	if err := wireServices(deps, cfg, logger); err != nil {
		return fail(err)
	}
	return deps, cleanup, nil
}

// wireServices builds the cycle stages and subscribes the bus handlers.
func wireServices(deps *Dependencies, cfg *config.Config, logger *slog.Logger) error {
	objective, err := backtest.ParseObjective(cfg.Optimizer.Objective)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	multipliers := bracket.Multipliers{
		StopLoss:   cfg.Dispatcher.StopLossMultiple,
		TakeProfit: cfg.Dispatcher.TakeProfitMultiple,
	}
	engine, err := backtest.NewEngine(backtest.Config{
		Cash:        cfg.Optimizer.Cash,
		ATRWindow:   cfg.Dispatcher.ATRWindow,
		Multipliers: multipliers,
		Commission:  cfg.Optimizer.Commission,
	})
	if err != nil {
		return fmt.Errorf("wire: backtest engine: %w", err)
	}
	catalogue := strategy.Builtin()

	deps.Lifecycle = service.NewLifecycle(deps.Positions, deps.Audit, domain.ActivePolicy(cfg.Invariants.ActivePolicy), logger)
	deps.Screener = service.NewScreener(deps.Lifecycle, deps.Bars, service.ScreenerConfig{
		Workers:         cfg.Screener.Workers,
		Lookback:        cfg.Screener.Lookback,
		MinDollarVolume: cfg.Screener.MinDollarVolume,
		MinEfficiency:   cfg.Screener.MinEfficiency,
	}, logger)
	deps.Optimizer = service.NewOptimizer(deps.Lifecycle, deps.Bars, catalogue, engine, service.OptimizerConfig{
		Workers:   cfg.Optimizer.Workers,
		Window:    cfg.Optimizer.Window,
		Objective: objective,
		SpaceDir:  cfg.Optimizer.SpecDir,
		Tickers:   cfg.Optimizer.Tickers,
	}, logger)
	if deps.Reports != nil {
		deps.Optimizer.WithReportSink(deps.Reports)
	}
	deps.Dispatcher = service.NewDispatcher(deps.Lifecycle, deps.Bars, catalogue, deps.Bus, service.DispatcherConfig{
		Window:      cfg.Dispatcher.Window,
		ATRWindow:   cfg.Dispatcher.ATRWindow,
		Multipliers: multipliers,
		AdjustOpen:  cfg.Dispatcher.AdjustOpen,
	}, logger)
	deps.Orders = service.NewOrderManager(deps.Lifecycle, deps.Broker, deps.Bars, service.OrderManagerConfig{
		Allocation: cfg.Orders.Allocation,
		QtyStep:    cfg.Orders.QtyStep,
		MaxPending: cfg.Orders.MaxPending.Duration,
	}, logger)

	deps.Bus.Subscribe(domain.EventPositionSignal, deps.Orders.HandleSignal)
	if deps.Notifier.Enabled() {
		deps.Bus.Subscribe(domain.EventPositionSignal, deps.Notifier.Dispatched)
	}
	if deps.Stream != nil {
		deps.Bus.Subscribe(domain.EventPositionSignal,
			eventbus.Mirror(deps.Stream, cfg.Redis.Stream, domain.EventPositionSignal, logger))
	}

	deps.Cycle = pipeline.NewCycle(
		deps.Lifecycle,
		deps.Screener,
		deps.Optimizer,
		deps.Dispatcher,
		deps.Orders,
		deps.Universe,
		pipeline.CycleConfig{
			Strategy: cfg.Optimizer.Strategy,
			LockKey:  cfg.Cycle.LockKey,
			LockTTL:  cfg.Cycle.LockTTL.Duration,
		},
		logger,
	).WithNotifier(deps.Notifier)
	if deps.Locker != nil {
		deps.Cycle.WithLocker(deps.Locker)
	}
	return nil
}
