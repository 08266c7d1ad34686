package journal

// FullLock holds every shard's writer lock at once. It blocks all
// concurrent Append/AppendBatch callers on this journal until Unlock is
// called, and is used exclusively during memtable/journal rotation so
// the seqno map snapshotted at that instant is consistent: holding the
// full lock freezes all writers so no later LSN can leak into the
// about-to-be-sealed journal.
type FullLock struct {
	shards []*shard
}

// FullLock acquires every shard lock in the journal's fixed (index)
// order, preventing the lock-ordering deadlock that acquiring shard
// locks in inconsistent order across goroutines would otherwise cause.
func (j *Journal) FullLock() *FullLock {
	for _, s := range j.shards {
		s.mu.Lock()
	}
	return &FullLock{shards: j.shards}
}

// Unlock releases every shard lock in reverse acquisition order.
func (fl *FullLock) Unlock() {
	for i := len(fl.shards) - 1; i >= 0; i-- {
		fl.shards[i].mu.Unlock()
	}
}
