package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCompaction() {
	r.CompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "keelkv_compactions_total",
			Help: "Total number of compaction notifications handled, by partition.",
		},
		[]string{"partition"},
	)

	r.L0SegmentCount = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keelkv_l0_segment_count",
			Help: "Current number of L0 segments, by partition.",
		},
		[]string{"partition"},
	)
}
