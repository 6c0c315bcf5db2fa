package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "gradepipe"

var (
	DefinitionRefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definition_refresh_total",
			Help:      "Total number of assignment definitions re-derived from source documents.",
		},
	)

	DefinitionFreshHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definition_fresh_hit_total",
			Help:      "Total number of ensure calls answered from the stored definition without parsing.",
		},
	)

	TaskDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_dropped_total",
			Help:      "Total number of parsed tasks dropped for missing required artifact roles.",
		},
	)

	ParseLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_latency_seconds",
			Help:      "Latency of external document parsing during a definition refresh (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	StoreWriteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_total",
			Help:      "Total number of document-store writes, labeled by tier.",
		},
		[]string{"tier"},
	)

	RunPersistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_persist_total",
			Help:      "Total number of assignment-run persist calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	RehydrationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehydration_total",
			Help:      "Total number of assignment-run rehydrations, labeled by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		DefinitionRefreshTotal,
		DefinitionFreshHitTotal,
		TaskDroppedTotal,
		ParseLatencySeconds,
		StoreWriteTotal,
		RunPersistTotal,
		RehydrationTotal,
	)
}
