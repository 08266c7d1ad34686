package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFlush() {
	r.MemtableRotationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "keelkv_memtable_rotations_total",
			Help: "Total number of memtable rotations by partition and trigger.",
		},
		[]string{"partition", "trigger"},
	)

	r.FlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "keelkv_flushes_total",
			Help: "Total number of sealed memtables flushed to L0, by partition.",
		},
		[]string{"partition"},
	)

	r.FlushDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keelkv_flush_duration_seconds",
			Help:    "Time spent writing a sealed memtable out as a segment.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition"},
	)

	r.FlushQueueDepth = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keelkv_flush_queue_depth",
			Help: "Number of pending flush tasks per partition.",
		},
		[]string{"partition"},
	)
}
