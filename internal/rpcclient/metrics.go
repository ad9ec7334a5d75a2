package rpcclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_requests_total",
			Help: "Total number of RPC requests by chain and method",
		},
		[]string{"chain", "method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_errors_total",
			Help: "Total number of RPC errors by chain, method and error type",
		},
		[]string{"chain", "method", "error_type"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindex_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "method"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_retries_total",
			Help: "Total number of RPC retry attempts by chain and method",
		},
		[]string{"chain", "method"},
	)
)

func methodInc(chain, method string) {
	rpcRequests.WithLabelValues(chain, method).Inc()
}

func methodDuration(chain, method string, d time.Duration) {
	rpcDuration.WithLabelValues(chain, method).Observe(d.Seconds())
}

func methodError(chain, method, errorType string) {
	rpcErrors.WithLabelValues(chain, method, errorType).Inc()
}

func retryInc(chain, method string) {
	rpcRetries.WithLabelValues(chain, method).Inc()
}
