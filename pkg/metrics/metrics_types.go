// Package metrics exposes the Prometheus instrumentation for a keyspace.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric a keyspace instance reports. Each open
// keyspace owns a private Registry rather than registering against the
// global default, so multiple keyspaces in the same process don't
// collide on metric names.
type Registry struct {
	registry *prometheus.Registry

	// Write path
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	BytesWritten       prometheus.Counter
	WriteStallSeconds  prometheus.Counter
	WriteStallActive   prometheus.Gauge

	// Journal
	JournalDiskUsageBytes prometheus.Gauge
	JournalRotationsTotal prometheus.Counter
	JournalsSealedTotal   prometheus.Counter
	JournalsDeletedTotal  prometheus.Counter

	// Memtable / flush
	MemtableRotationsTotal *prometheus.CounterVec
	FlushesTotal           *prometheus.CounterVec
	FlushDuration          *prometheus.HistogramVec
	FlushQueueDepth        *prometheus.GaugeVec

	// Compaction
	CompactionsTotal  *prometheus.CounterVec
	L0SegmentCount    *prometheus.GaugeVec

	once sync.Once
}

// NewRegistry creates a private metrics registry with every metric
// pre-registered via promauto.With(r.registry), grouped into one
// init* method per concern.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initWritePath()
	r.initJournal()
	r.initFlush()
	r.initCompaction()
	return r
}

// Gatherer exposes the underlying collector for wiring into an HTTP
// /metrics handler; kept as an interface return so callers don't need
// the prometheus import just to serve it.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
