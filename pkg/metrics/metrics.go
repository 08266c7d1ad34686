package metrics

import "time"

// RecordOperation records a write-path operation (insert, remove, batch).
func (r *Registry) RecordOperation(operation, status string, duration time.Duration, bytes int) {
	r.OperationsTotal.WithLabelValues(operation, status).Inc()
	r.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if bytes > 0 {
		r.BytesWritten.Add(float64(bytes))
	}
}

// RecordStall accounts for time spent in the write-halt loop.
func (r *Registry) RecordStall(duration time.Duration) {
	r.WriteStallSeconds.Add(duration.Seconds())
}

// SetStallActive flips the write-stall gauge.
func (r *Registry) SetStallActive(active bool) {
	if active {
		r.WriteStallActive.Set(1)
	} else {
		r.WriteStallActive.Set(0)
	}
}

// RecordRotation records a memtable rotation for a partition.
func (r *Registry) RecordRotation(partition, trigger string) {
	r.MemtableRotationsTotal.WithLabelValues(partition, trigger).Inc()
}

// RecordFlush records a completed flush task for a partition.
func (r *Registry) RecordFlush(partition string, duration time.Duration) {
	r.FlushesTotal.WithLabelValues(partition).Inc()
	r.FlushDuration.WithLabelValues(partition).Observe(duration.Seconds())
}

// SetFlushQueueDepth reports the current queue depth for a partition.
func (r *Registry) SetFlushQueueDepth(partition string, depth int) {
	r.FlushQueueDepth.WithLabelValues(partition).Set(float64(depth))
}

// RecordCompactionNotify records a compaction-manager notification.
func (r *Registry) RecordCompactionNotify(partition string) {
	r.CompactionsTotal.WithLabelValues(partition).Inc()
}

// SetL0SegmentCount reports the current L0 file count for a partition.
func (r *Registry) SetL0SegmentCount(partition string, count int) {
	r.L0SegmentCount.WithLabelValues(partition).Set(float64(count))
}

// SetJournalDiskUsage reports total bytes held by active plus sealed
// journal directories.
func (r *Registry) SetJournalDiskUsage(bytes int64) {
	r.JournalDiskUsageBytes.Set(float64(bytes))
}

// RecordJournalRotation records one active-to-sealed journal rotation.
func (r *Registry) RecordJournalRotation() {
	r.JournalRotationsTotal.Inc()
	r.JournalsSealedTotal.Inc()
}

// RecordJournalDeleted records one sealed journal garbage collected
// after every partition referencing it reached durability.
func (r *Registry) RecordJournalDeleted() {
	r.JournalsDeletedTotal.Inc()
}
