// Package metrics provides Prometheus metrics for catalogops
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the catalog engine
type Metrics struct {
	// Bulk action metrics
	BulkRunsTotal     *prometheus.CounterVec
	BulkItemsTotal    *prometheus.CounterVec
	BulkRunDuration   *prometheus.HistogramVec
	BulkItemsInFlight prometheus.Gauge

	// Reorder metrics
	ReorderMovesTotal      prometheus.Counter
	ReorderDeltasTotal     prometheus.Counter
	ReorderPersistFailures prometheus.Counter

	// Scan metrics
	ScansEmittedTotal   prometheus.Counter
	ScansDiscardedTotal *prometheus.CounterVec

	// View metrics
	ViewCacheHits   prometheus.Counter
	ViewCacheMisses prometheus.Counter

	// Export and ingestion metrics
	ExportsTotal      *prometheus.CounterVec
	ExportBytesTotal  prometheus.Counter
	ImageIngestsTotal *prometheus.CounterVec

	// gRPC metrics
	RPCRequestsTotal    *prometheus.CounterVec
	RPCRequestDuration  *prometheus.HistogramVec
	RPCRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.BulkRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_bulk_runs_total",
			Help: "Total number of bulk actions by kind and outcome",
		},
		[]string{"action", "outcome"},
	)

	m.BulkItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_bulk_items_total",
			Help: "Total number of records processed by bulk actions",
		},
		[]string{"action", "status"},
	)

	m.BulkRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogops_bulk_run_duration_seconds",
			Help:    "Duration of bulk actions in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action"},
	)

	m.BulkItemsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogops_bulk_items_in_flight",
			Help: "Number of per-record persistence calls currently running",
		},
	)

	m.ReorderMovesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_reorder_moves_total",
			Help: "Total number of applied reorder moves",
		},
	)

	m.ReorderDeltasTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_reorder_deltas_total",
			Help: "Total number of sort order deltas produced",
		},
	)

	m.ReorderPersistFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_reorder_persist_failures_total",
			Help: "Total number of failed best-effort sort order writes",
		},
	)

	m.ScansEmittedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_scans_emitted_total",
			Help: "Total number of barcode scans recognised",
		},
	)

	m.ScansDiscardedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_scans_discarded_total",
			Help: "Total number of scan buffers discarded",
		},
		[]string{"reason"},
	)

	m.ViewCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_view_cache_hits_total",
			Help: "Total number of view projections served from cache",
		},
	)

	m.ViewCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_view_cache_misses_total",
			Help: "Total number of view projections recomputed",
		},
	)

	m.ExportsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_exports_total",
			Help: "Total number of exports by format",
		},
		[]string{"format"},
	)

	m.ExportBytesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogops_export_bytes_total",
			Help: "Total number of exported bytes",
		},
	)

	m.ImageIngestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_image_ingests_total",
			Help: "Total number of image ingestions by result",
		},
		[]string{"result"},
	)

	m.RPCRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.RPCRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogops_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.RPCRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogops_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogops_store_operations_total",
			Help: "Total number of item store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogops_store_operation_duration_seconds",
			Help:    "Duration of item store operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns metrics registered once on the default registerer
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Discard returns metrics bound to a private registry nobody scrapes
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrDiscard returns m, or private throwaway metrics when m is nil
func OrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}

// RecordBulkRun records a finished bulk action
func (m *Metrics) RecordBulkRun(action string, succeeded, failed int, duration time.Duration) {
	outcome := "success"
	switch {
	case failed > 0 && succeeded > 0:
		outcome = "partial"
	case failed > 0:
		outcome = "failure"
	case succeeded == 0:
		outcome = "noop"
	}

	m.BulkRunsTotal.WithLabelValues(action, outcome).Inc()
	m.BulkItemsTotal.WithLabelValues(action, "succeeded").Add(float64(succeeded))
	m.BulkItemsTotal.WithLabelValues(action, "failed").Add(float64(failed))
	m.BulkRunDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordReorder records a reorder move and its delta count
func (m *Metrics) RecordReorder(deltas int) {
	m.ReorderMovesTotal.Inc()
	m.ReorderDeltasTotal.Add(float64(deltas))
}

// RecordExport records an export payload
func (m *Metrics) RecordExport(format string, size int) {
	m.ExportsTotal.WithLabelValues(format).Inc()
	m.ExportBytesTotal.Add(float64(size))
}

// RecordRPC records a gRPC request with its status
func (m *Metrics) RecordRPC(method string, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records an item store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
