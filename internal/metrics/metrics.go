// Package metrics declares the Prometheus series this process exposes:
// per-chain indexing progress, the filter evaluator and indexing cache's
// throughput, RPC cache hit rates, and the usual process-level gauges.
// internal/rpcclient registers its own request/retry series directly
// against the same default registry; this package owns everything else.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Storage metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"db", "operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindex_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db", "operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"db", "error_type"},
	)

	// Per-chain indexing metrics
	LastIndexedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_last_indexed_block",
			Help: "The last block number a chain's backfill or live tail has processed",
		},
		[]string{"chain"},
	)

	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_blocks_processed_total",
			Help: "Total number of blocks processed per chain",
		},
		[]string{"chain"},
	)

	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_records_emitted_total",
			Help: "Total number of records the sync coordinator has emitted, by source kind",
		},
		[]string{"chain", "kind"},
	)

	BlockProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindex_block_processing_duration_seconds",
			Help:    "Time taken to process a batch of blocks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	IndexingRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_indexing_rate_blocks_per_second",
			Help: "Current indexing rate in blocks per second",
		},
		[]string{"chain"},
	)

	ReorgsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_reorgs_handled_total",
			Help: "Total number of reorgs reconciled per chain",
		},
		[]string{"chain"},
	)

	ReorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindex_reorg_depth_blocks",
			Help:    "Depth in blocks of reconciled reorgs",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"chain"},
	)

	// Indexing cache metrics
	CacheBytesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_cache_bytes_in_use",
			Help: "Current estimated byte size of the indexing cache",
		},
	)

	CacheFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_cache_flushes_total",
			Help: "Total number of indexing cache flushes, by trigger",
		},
		[]string{"trigger"},
	)

	// RPC cache metrics
	RPCCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_cache_hits_total",
			Help: "Total number of RPC cache hits and misses by chain and method",
		},
		[]string{"chain", "method", "outcome"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(db string, operation string) {
	dbQueries.WithLabelValues(db, operation).Inc()
}

func DBQueryDuration(db string, operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(db, operation).Observe(duration.Seconds())
}

func DBErrorsInc(db string, errorType string) {
	dbErrors.WithLabelValues(db, errorType).Inc()
}

func BlockProcessingTimeLog(chain string, duration time.Duration) {
	BlockProcessingTime.WithLabelValues(chain).Observe(duration.Seconds())
}

func LastIndexedBlockSet(chain string, blockNum uint64) {
	LastIndexedBlock.WithLabelValues(chain).Set(float64(blockNum))
}

func BlocksProcessedInc(chain string, count uint64) {
	BlocksProcessed.WithLabelValues(chain).Add(float64(count))
}

func RecordsEmittedInc(chain, kind string, count int) {
	RecordsEmitted.WithLabelValues(chain, kind).Add(float64(count))
}

func IndexingRateSet(chain string, rate float64) {
	IndexingRate.WithLabelValues(chain).Set(rate)
}

func ReorgHandledInc(chain string, depthBlocks uint64) {
	ReorgsHandled.WithLabelValues(chain).Inc()
	ReorgDepth.WithLabelValues(chain).Observe(float64(depthBlocks))
}

func CacheBytesInUseSet(bytes int64) {
	CacheBytesInUse.Set(float64(bytes))
}

func CacheFlushInc(trigger string) {
	CacheFlushes.WithLabelValues(trigger).Inc()
}

func RPCCacheOutcomeInc(chain, method string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	RPCCacheHits.WithLabelValues(chain, method, outcome).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics. Called periodically
// (e.g. every 15 seconds) by the metrics server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
