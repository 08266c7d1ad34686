package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initWritePath() {
	r.OperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "keelkv_operations_total",
			Help: "Total number of write-path operations by kind and outcome.",
		},
		[]string{"operation", "status"},
	)

	r.OperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keelkv_operation_duration_seconds",
			Help:    "Latency of write-path operations in seconds.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.BytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "keelkv_bytes_written_total",
			Help: "Total bytes of key+value payload accepted by the write path.",
		},
	)

	r.WriteStallSeconds = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "keelkv_write_stall_seconds_total",
			Help: "Cumulative seconds writers spent blocked on backpressure.",
		},
	)

	r.WriteStallActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "keelkv_write_stall_active",
			Help: "1 while the keyspace is in a write halt, 0 otherwise.",
		},
	)
}
