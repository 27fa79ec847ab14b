// Package metrics exposes Prometheus instrumentation for the cart
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CartOperations counts ledger operations by name and outcome.
	CartOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Cart ledger operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// ValidationOutcomes counts per-product validation results.
	ValidationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_validation_outcomes_total",
			Help: "Product validation outcomes (valid, gone, retrying, failed).",
		},
		[]string{"status"},
	)

	// ValidationCacheHits counts validation cache reads by result.
	ValidationCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_validation_cache_reads_total",
			Help: "Validation cache reads by result (hit, miss, expired).",
		},
		[]string{"result"},
	)

	// StorageTierChanges counts adapter tier transitions.
	StorageTierChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_storage_tier_changes_total",
			Help: "Storage tier fallbacks and promotions.",
		},
		[]string{"from", "to"},
	)

	// PersistDuration observes cart persistence latency.
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cart_persist_duration_seconds",
			Help:    "Time spent persisting the cart payload.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ValidationQueueDepth tracks the number of queued products.
	ValidationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cart_validation_queue_depth",
			Help: "Products currently awaiting validation.",
		},
	)

	// BackgroundRuns counts background reconciliation passes.
	BackgroundRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_background_runs_total",
			Help: "Background reconciliation passes by outcome (completed, skipped).",
		},
		[]string{"outcome"},
	)
)

// RecordOperation tags a ledger operation with its outcome.
func RecordOperation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	CartOperations.WithLabelValues(operation, outcome).Inc()
}
