// Package metrics holds the Prometheus collectors of the trading cycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradecycle"

// Cycle results.
const (
	ResultOK        = "ok"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultInvariant = "invariant"
)

// CycleRuns counts cycle runs by result.
var CycleRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "runs_total",
		Help:      "Trading cycle runs by result",
	},
	[]string{"result"},
)

// StageDuration times each cycle stage.
var StageDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each cycle stage",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	},
	[]string{"stage"},
)

// StageOutcomes counts per-ticker outcomes of the screen and optimize stages.
var StageOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "ticker_outcomes_total",
		Help:      "Per-ticker outcomes by stage",
	},
	[]string{"stage", "outcome"},
)

// Dispatches counts dispatched brackets, split into new entries and
// adjustments of open positions.
var Dispatches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "signals_total",
		Help:      "Dispatched bracket signals",
	},
	[]string{"kind"},
)

// ReconcileActions counts order manager actions taken while reconciling.
var ReconcileActions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "reconcile_actions_total",
		Help:      "Order manager reconciliation actions",
	},
	[]string{"action"},
)

// InvariantViolations counts lifecycle invariant violations by rule.
var InvariantViolations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "invariant_violations_total",
		Help:      "Lifecycle invariant violations",
	},
	[]string{"rule"},
)

// Positions is the number of stored positions per status after the last
// cycle.
var Positions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "positions",
		Help:      "Positions per status",
	},
	[]string{"status"},
)

// LastCycleSuccess is the unix time of the last cycle that completed.
var LastCycleSuccess = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful cycle",
	},
)
