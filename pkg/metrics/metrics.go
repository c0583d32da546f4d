package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersAdmitted counts orders admitted to engine queues by side.
var OrdersAdmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fundmatch_orders_admitted_total",
		Help: "Total number of orders admitted to matching engine queues",
	},
	[]string{"side"},
)

// GateRejections counts profitability gate rejections by reason.
var GateRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fundmatch_gate_rejections_total",
		Help: "Total number of orders rejected by the profitability gate",
	},
	[]string{"reason"},
)

// PairsMatched counts matched pairs by origin (engine or market maker).
var PairsMatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fundmatch_pairs_matched_total",
		Help: "Total number of matched pairs recorded",
	},
	[]string{"origin"},
)

// UnitsMatched accumulates matched units by origin.
var UnitsMatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fundmatch_units_matched_total",
		Help: "Total fund units matched",
	},
	[]string{"origin"},
)

// ActiveEngines tracks the number of live matching engines.
var ActiveEngines = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "fundmatch_active_engines",
		Help: "Number of matching engines currently registered",
	},
)

// SweepRuns counts idle-cleanup sweep executions.
var SweepRuns = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fundmatch_sweep_runs_total",
		Help: "Total number of idle-engine cleanup sweeps",
	},
)

// ProcessLatency records latency distribution for process-all calls.
var ProcessLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "fundmatch_process_all_latency_seconds",
		Help:    "Latency in seconds of a full matching pass",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(
		OrdersAdmitted,
		GateRejections,
		PairsMatched,
		UnitsMatched,
		ActiveEngines,
		SweepRuns,
		ProcessLatency,
	)
}
