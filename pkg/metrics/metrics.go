package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Batching metrics
	EnqueuedItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutbatch_enqueued_items_total",
			Help: "Total number of record identifiers added to pending batches",
		},
		[]string{"entity_type", "direction"},
	)

	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutbatch_flushes_total",
			Help: "Total number of pending batches flushed",
		},
		[]string{"direction", "reason"},
	)

	FlushBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoutbatch_flush_batch_size",
			Help:    "Number of records delivered per flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"direction"},
	)

	FlushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutbatch_flush_failures_total",
			Help: "Total number of flushes whose materialization or delivery failed",
		},
		[]string{"direction", "stage"},
	)

	StaleReferences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutbatch_stale_references_total",
			Help: "Pending identifiers dropped because the record no longer exists",
		},
		[]string{"entity_type"},
	)

	MisconfiguredEntities = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoutbatch_misconfigured_entities_total",
			Help: "Entity types removed from the registry because they lost the batching capability",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scoutbatch_sweep_duration_seconds",
			Help:    "Duration of a sweep over all active entity types",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveEntityTypes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoutbatch_active_entity_types",
			Help: "Entity types with at least one pending batch, as seen by the last sweep",
		},
	)

	// Cache metrics
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations by outcome",
		},
		[]string{"operation", "result"},
	)

	// Event consumption metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutbatch_events_consumed_total",
			Help: "Total number of change events consumed",
		},
		[]string{"event_type", "status"},
	)

	// Indexing backend metrics
	IndexRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoutbatch_index_request_duration_seconds",
			Help:    "Search backend bulk request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)
)
