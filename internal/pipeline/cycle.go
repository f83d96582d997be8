// Package pipeline runs the screen, optimize, dispatch and reconcile stages
// as one trading cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/metrics"
	"github.com/alanyoungcy/tradecycle/internal/notify"
	"github.com/alanyoungcy/tradecycle/internal/service"
)

// Stage names, also used as metric labels.
const (
	StageScreen    = "screen"
	StageOptimize  = "optimize"
	StageDispatch  = "dispatch"
	StageReconcile = "reconcile"
)

// Stages lists the stages in the order Run executes them.
var Stages = []string{StageScreen, StageOptimize, StageDispatch, StageReconcile}

// CycleConfig controls one Cycle.
type CycleConfig struct {
	// Strategy restricts optimization to one strategy; empty means all.
	Strategy string
	LockKey  string
	LockTTL  time.Duration
}

// CycleReport summarises one Run.
type CycleReport struct {
	StartedAt  time.Time               `json:"started_at"`
	Duration   time.Duration           `json:"duration_ns"`
	Skipped    bool                    `json:"skipped"`
	Screen     service.ScreenReport    `json:"-"`
	Optimize   service.OptimizeReport  `json:"-"`
	Dispatched int                     `json:"dispatched"`
	Reconcile  service.ReconcileReport `json:"reconcile"`
	Stage      string                  `json:"stage,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Cycle runs the four stages in order with a join between them and checks
// the one-active-position invariant after each.
type Cycle struct {
	lc         *service.Lifecycle
	screener   *service.Screener
	optimizer  *service.Optimizer
	dispatcher *service.Dispatcher
	orders     *service.OrderManager
	universe   []string
	locker     domain.LockManager
	notifier   *notify.Notifier
	cfg        CycleConfig
	logger     *slog.Logger
	now        func() time.Time

	trigger chan struct{}
	mu      sync.Mutex
	last    *CycleReport
}

// NewCycle creates a Cycle over universe.
func NewCycle(
	lc *service.Lifecycle,
	screener *service.Screener,
	optimizer *service.Optimizer,
	dispatcher *service.Dispatcher,
	orders *service.OrderManager,
	universe []string,
	cfg CycleConfig,
	logger *slog.Logger,
) *Cycle {
	if cfg.LockKey == "" {
		cfg.LockKey = "cycle"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Hour
	}
	return &Cycle{
		lc:         lc,
		screener:   screener,
		optimizer:  optimizer,
		dispatcher: dispatcher,
		orders:     orders,
		universe:   universe,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "cycle")),
		now:        func() time.Time { return time.Now().UTC() },
		trigger:    make(chan struct{}, 1),
	}
}

// WithLocker serialises cycles across processes through locker.
func (c *Cycle) WithLocker(locker domain.LockManager) *Cycle {
	c.locker = locker
	return c
}

// WithNotifier sends invariant and failure alerts through n.
func (c *Cycle) WithNotifier(n *notify.Notifier) *Cycle {
	c.notifier = n
	return c
}

// Last returns the report of the most recent Run, or nil.
func (c *Cycle) Last() *CycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}

// Trigger asks RunLoop for an immediate cycle. It reports false when a
// trigger is already pending.
func (c *Cycle) Trigger() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes one full cycle. When another process holds the cycle lock the
// run is skipped. Invariant violations stop the cycle and are returned as
// *domain.InvariantError.
func (c *Cycle) Run(ctx context.Context) (CycleReport, error) {
	return c.run(ctx, Stages...)
}

// RunStage runs a single stage under the same lock, invariant check and
// alerting as Run.
func (c *Cycle) RunStage(ctx context.Context, stage string) (CycleReport, error) {
	if !slices.Contains(Stages, stage) {
		return CycleReport{}, fmt.Errorf("cycle: unknown stage %q", stage)
	}
	return c.run(ctx, stage)
}

func (c *Cycle) run(ctx context.Context, names ...string) (report CycleReport, err error) {
	report.StartedAt = c.now()
	defer func() {
		report.Duration = c.now().Sub(report.StartedAt)
		c.finish(ctx, &report, err)
	}()

	if c.locker != nil {
		unlock, lerr := c.locker.Acquire(ctx, c.cfg.LockKey, c.cfg.LockTTL)
		if errors.Is(lerr, domain.ErrLockHeld) {
			c.logger.InfoContext(ctx, "cycle skipped, lock held elsewhere", slog.String("key", c.cfg.LockKey))
			report.Skipped = true
			return report, nil
		}
		if lerr != nil {
			return report, fmt.Errorf("cycle: acquire lock: %w", lerr)
		}
		defer unlock()
	}

	c.logger.InfoContext(ctx, "cycle starting",
		slog.Int("universe", len(c.universe)),
		slog.Any("stages", names),
	)

	stages := map[string]func(ctx context.Context) error{
		StageScreen: func(ctx context.Context) error {
			r, err := c.screener.ScreenInParallel(ctx, c.universe)
			report.Screen = r
			countOutcomes(StageScreen, map[service.OutcomeKind]int{
				service.OutcomePassed:   r.Passed,
				service.OutcomeRejected: r.Rejected,
				service.OutcomeSkipped:  r.Skipped,
				service.OutcomeFailed:   r.Failed,
			})
			return err
		},
		StageOptimize: func(ctx context.Context) error {
			r, err := c.optimizer.OptimizeParameters(ctx, c.cfg.Strategy)
			report.Optimize = r
			countOutcomes(StageOptimize, map[service.OutcomeKind]int{
				service.OutcomePassed:  r.Optimized,
				service.OutcomeSkipped: r.Skipped,
				service.OutcomeFailed:  r.Failed,
			})
			return err
		},
		StageDispatch: func(ctx context.Context) error {
			results, err := c.dispatcher.DispatchSignals(ctx)
			report.Dispatched = len(results)
			for _, r := range results {
				kind := "entry"
				if r.Adjustment {
					kind = "adjustment"
				}
				metrics.Dispatches.WithLabelValues(kind).Inc()
			}
			return err
		},
		StageReconcile: func(ctx context.Context) error {
			r, err := c.orders.Reconcile(ctx)
			report.Reconcile = r
			for action, n := range r.Actions {
				metrics.ReconcileActions.WithLabelValues(string(action)).Add(float64(n))
			}
			return err
		},
	}

	for _, name := range names {
		start := time.Now()
		err := stages[name](ctx)
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err == nil {
			err = c.verify(ctx)
		}
		if err != nil {
			report.Stage = name
			return report, fmt.Errorf("cycle: %s: %w", name, err)
		}
	}
	return report, nil
}

// verify checks the invariant for every ticker in the universe and every
// ticker that still has a live record.
func (c *Cycle) verify(ctx context.Context) error {
	live, err := c.lc.Tickers(ctx,
		domain.PositionStatusScreened,
		domain.PositionStatusOptimized,
		domain.PositionStatusDispatched,
		domain.PositionStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("list live tickers: %w", err)
	}
	return c.lc.Verify(ctx, append(append([]string(nil), c.universe...), live...))
}

func (c *Cycle) finish(ctx context.Context, report *CycleReport, err error) {
	var ie *domain.InvariantError
	switch {
	case report.Skipped:
		metrics.CycleRuns.WithLabelValues(metrics.ResultSkipped).Inc()
	case errors.As(err, &ie):
		metrics.CycleRuns.WithLabelValues(metrics.ResultInvariant).Inc()
		metrics.InvariantViolations.WithLabelValues(ie.Rule.Error()).Inc()
		c.logger.ErrorContext(ctx, "invariant violated",
			slog.String("stage", report.Stage),
			slog.String("ticker", ie.Ticker),
			slog.String("status", string(ie.Status)),
			slog.String("rule", ie.Rule.Error()),
		)
		c.alert(ctx, func(ctx context.Context) error { return c.notifier.Invariant(ctx, ie) })
	case err != nil:
		metrics.CycleRuns.WithLabelValues(metrics.ResultFailed).Inc()
		c.logger.ErrorContext(ctx, "cycle failed",
			slog.String("stage", report.Stage),
			slog.String("error", err.Error()),
		)
		c.alert(ctx, func(ctx context.Context) error {
			return c.notifier.Notify(ctx, notify.EventCycleFailed, "Cycle failed", err.Error())
		})
	default:
		metrics.CycleRuns.WithLabelValues(metrics.ResultOK).Inc()
		metrics.LastCycleSuccess.Set(float64(c.now().Unix()))
		c.logger.InfoContext(ctx, "cycle complete",
			slog.Duration("duration", report.Duration),
			slog.Int("screened", report.Screen.Passed),
			slog.Int("optimized", report.Optimize.Optimized),
			slog.Int("dispatched", report.Dispatched),
			slog.Int("reconcile_failed", report.Reconcile.Failed),
		)
		c.alert(ctx, func(ctx context.Context) error {
			return c.notifier.Notify(ctx, notify.EventCycleSummary, "Cycle complete", fmt.Sprintf(
				"screened %d, optimized %d, dispatched %d", report.Screen.Passed, report.Optimize.Optimized, report.Dispatched))
		})
	}
	if err != nil {
		report.Error = err.Error()
	}
	if !report.Skipped {
		c.recordPositions(ctx)
	}

	c.mu.Lock()
	r := *report
	c.last = &r
	c.mu.Unlock()
}

func (c *Cycle) alert(ctx context.Context, send func(context.Context) error) {
	if !c.notifier.Enabled() {
		return
	}
	// the cycle context may already be cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := send(ctx); err != nil {
		c.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
	}
}

func (c *Cycle) recordPositions(ctx context.Context) {
	for _, st := range domain.AllPositionStatuses() {
		if st.IsTerminal() {
			continue
		}
		list, err := c.lc.Positions().ListByStatus(ctx, st)
		if err != nil {
			return
		}
		metrics.Positions.WithLabelValues(string(st)).Set(float64(len(list)))
	}
}

// RunLoop runs a cycle immediately, then every interval and whenever Trigger
// is called, until ctx ends. An invariant violation ends the loop; other
// failures are logged and the next cycle proceeds.
func (c *Cycle) RunLoop(ctx context.Context, interval time.Duration) error {
	c.logger.InfoContext(ctx, "cycle loop starting", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if domain.IsInvariant(err) {
				return err
			}
		}
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "cycle loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-c.trigger:
			c.logger.InfoContext(ctx, "cycle triggered")
		}
	}
}

func countOutcomes(stage string, counts map[service.OutcomeKind]int) {
	for kind, n := range counts {
		if n > 0 {
			metrics.StageOutcomes.WithLabelValues(stage, string(kind)).Add(float64(n))
		}
	}
}
