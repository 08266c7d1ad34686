package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initJournal() {
	r.JournalDiskUsageBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "keelkv_journal_disk_usage_bytes",
			Help: "Total bytes occupied by active and sealed journal directories.",
		},
	)

	r.JournalRotationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "keelkv_journal_rotations_total",
			Help: "Total number of journal rotations (active -> sealed).",
		},
	)

	r.JournalsSealedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "keelkv_journals_sealed_total",
			Help: "Total number of journals sealed.",
		},
	)

	r.JournalsDeletedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "keelkv_journals_deleted_total",
			Help: "Total number of sealed journals garbage collected.",
		},
	)
}
