// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageOps counts backend calls by collection, operation, backend and outcome
	// ("ok", "not_found", "unavailable", "error").
	StorageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturelens_storage_operations_total",
			Help: "Document store operations by backend and outcome",
		},
		[]string{"collection", "op", "backend", "outcome"},
	)

	// StorageFallbacks counts writes and reads served by the local store after a remote failure.
	StorageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturelens_storage_fallbacks_total",
			Help: "Operations that fell back to the local store",
		},
		[]string{"collection", "op"},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturelens_persistence_failures_total",
			Help: "Operations for which both backends failed",
		},
		[]string{"collection", "op"},
	)

	PendingSync = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lecturelens_pending_sync_documents",
		Help: "Documents written locally and not yet reconciled to the remote store",
	})

	// RemoteBreakerState is 0 closed, 1 half-open, 2 open.
	RemoteBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lecturelens_remote_breaker_state",
		Help: "Remote store circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	ReconciledDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturelens_reconciled_documents_total",
			Help: "Pending documents processed by reconciliation, by result",
		},
		[]string{"result"},
	)

	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturelens_analyses_total",
			Help: "Lecture analyses by outcome",
		},
		[]string{"outcome"},
	)

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lecturelens_analysis_duration_seconds",
		Help:    "Time spent analyzing and persisting one lecture",
		Buckets: prometheus.DefBuckets,
	})

	InsightJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturelens_insight_jobs_total",
			Help: "AI summary jobs processed by outcome",
		},
		[]string{"outcome"},
	)
)
