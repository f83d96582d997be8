// Command tradecycle runs the screen, optimize, dispatch and reconcile
// trading cycle, one stage at a time or on a schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/alanyoungcy/tradecycle/internal/app"
	"github.com/alanyoungcy/tradecycle/internal/config"
	"github.com/alanyoungcy/tradecycle/internal/domain"
	"github.com/alanyoungcy/tradecycle/internal/pipeline"
	"github.com/alanyoungcy/tradecycle/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newCommand(os.Stdout).Run(ctx, os.Args)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

// exitCode reports err on w and maps it to a process exit status. A broken
// position invariant gets its own status so supervisors can tell it apart.
func exitCode(err error, w io.Writer) int {
	var ie *domain.InvariantError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.As(err, &ie):
		fmt.Fprintf(w, "fatal: %s\n", ie.Error())
		return 2
	default:
		fmt.Fprintf(w, "fatal: %v\n", err)
		return 1
	}
}

func newCommand(out io.Writer) *cli.Command {
	stage := func(name, usage string) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withApp(cmd, func(a *app.App) error {
					report, err := a.Stage(ctx, name)
					printReport(out, report)
					return err
				})
			},
		}
	}

	return &cli.Command{
		Name:  "tradecycle",
		Usage: "screen, optimize, dispatch and reconcile bracket positions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the TOML configuration `FILE`; empty uses defaults and environment only",
				Sources: cli.EnvVars("TRADECYCLE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			stage(pipeline.StageScreen, "screen the universe for liquid, trending tickers"),
			{
				Name:  pipeline.StageOptimize,
				Usage: "search strategy parameters for screened tickers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "strategy",
						Aliases: []string{"s"},
						Usage:   "restrict the search to one strategy `NAME`",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(cmd, func(a *app.App) error {
						report, err := a.Stage(ctx, pipeline.StageOptimize)
						printReport(out, report)
						return err
					})
				},
			},
			stage(pipeline.StageDispatch, "evaluate signals and dispatch brackets"),
			stage(pipeline.StageReconcile, "submit dispatched brackets and sync with the broker"),
			{
				Name:  "cycle",
				Usage: "run every stage once",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(cmd, func(a *app.App) error {
						report, err := a.Cycle(ctx)
						printReport(out, report)
						return err
					})
				},
			},
			{
				Name:  "run",
				Usage: "run the cycle on a schedule and serve health, metrics and the API",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(cmd, func(a *app.App) error {
						return a.Run(ctx)
					})
				},
			},
			{
				Name:  "refresh",
				Usage: "pull daily bars from Polygon into the bar store",
				Flags: []cli.Flag{
					&cli.TimestampFlag{
						Name:   "as-of",
						Usage:  "last day to fetch, `YYYY-MM-DD`",
						Value:  time.Now().UTC(),
						Config: cli.TimestampConfig{Layouts: []string{"2006-01-02"}},
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(cmd, func(a *app.App) error {
						res, err := a.Refresh(ctx, cmd.Timestamp("as-of"), os.Stderr)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "refreshed %d tickers, %d bars\n", res.Tickers, res.Bars)
						failed := make([]string, 0, len(res.Failures))
						for t := range res.Failures {
							failed = append(failed, t)
						}
						sort.Strings(failed)
						for _, t := range failed {
							fmt.Fprintf(out, "  %s: %v\n", t, res.Failures[t])
						}
						return nil
					})
				},
			},
			{
				Name:  "archive",
				Usage: "copy one day of closed positions and audit entries to S3",
				Flags: []cli.Flag{
					&cli.TimestampFlag{
						Name:   "day",
						Usage:  "UTC day to archive, `YYYY-MM-DD`; defaults to yesterday",
						Value:  time.Now().UTC().AddDate(0, 0, -1),
						Config: cli.TimestampConfig{Layouts: []string{"2006-01-02"}},
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(cmd, func(a *app.App) error {
						day := cmd.Timestamp("day")
						res, err := a.Archive(ctx, day)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "archived %s: %d positions, %d audit entries\n",
							day.Format("2006-01-02"), res.Positions, res.Audit)
						return nil
					})
				},
			},
		},
	}
}

// withApp loads and validates the configuration, builds the logger and runs
// fn against a fresh App.
func withApp(cmd *cli.Command, fn func(a *app.App) error) error {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if s := cmd.String("strategy"); s != "" {
		cfg.Optimizer.Strategy = s
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("tradecycle starting",
		slog.String("command", cmd.Name),
		slog.String("config", path),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	a := app.New(cfg, logger)
	defer a.Close()
	return fn(a)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func printReport(w io.Writer, r pipeline.CycleReport) {
	if r.Skipped {
		fmt.Fprintln(w, "skipped: cycle lock is held elsewhere")
		return
	}
	fmt.Fprintf(w, "screen:    passed %d, rejected %d, skipped %d, failed %d\n",
		r.Screen.Passed, r.Screen.Rejected, r.Screen.Skipped, r.Screen.Failed)
	fmt.Fprintf(w, "optimize:  optimized %d, skipped %d, failed %d\n",
		r.Optimize.Optimized, r.Optimize.Skipped, r.Optimize.Failed)
	fmt.Fprintf(w, "dispatch:  %d\n", r.Dispatched)

	actions := make([]string, 0, len(r.Reconcile.Actions))
	for a := range r.Reconcile.Actions {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	fmt.Fprint(w, "reconcile:")
	for _, a := range actions {
		fmt.Fprintf(w, " %s %d,", a, r.Reconcile.Actions[service.Action(a)])
	}
	fmt.Fprintf(w, " failed %d\n", r.Reconcile.Failed)
	if r.Error != "" {
		fmt.Fprintf(w, "stopped at %s: %s\n", r.Stage, r.Error)
	}
}
