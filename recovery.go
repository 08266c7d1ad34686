package keelkv

import (
	"github.com/dd0wney/keelkv/pkg/flush"
	"github.com/dd0wney/keelkv/pkg/journal"
)

// recover replays every journal back into memtables before the
// keyspace accepts new writes. Sealed journals are replayed oldest
// first, each one rotating every partition it touched into a sealed
// memtable and a flush task once fully replayed, so recovered data
// reaches disk the same way newly written data does. The active
// journal's replayed records are left live in the active memtables
// instead, since that journal generation is still being written to.
func (ks *Keyspace) recover() error {
	var maxSeen uint64
	var sawAny bool

	for _, dir := range ks.journals.SealedDirs() {
		seen, err := ks.replayJournal(dir, ks.journals.opts)
		if err != nil {
			return err
		}
		if seen.ok && (!sawAny || seen.maxLSN > maxSeen) {
			maxSeen, sawAny = seen.maxLSN, true
		}

		if err := ks.sealEveryPartition(); err != nil {
			return err
		}
	}

	seen, err := ks.replayOpenJournal(ks.journals.Active())
	if err != nil {
		return err
	}
	if seen.ok && (!sawAny || seen.maxLSN > maxSeen) {
		maxSeen, sawAny = seen.maxLSN, true
	}

	if sawAny {
		ks.seqno.Store(maxSeen + 1)
	}
	return nil
}

type replaySummary struct {
	maxLSN uint64
	ok     bool
}

// replayJournal opens the journal directory at dir independently of
// the journalManager's own handle (which already owns the active
// journal's shards), replays every record into its partition's active
// memtable, and closes it again. Replaying idempotently re-inserts the
// same (key, LSN) version on every recovery attempt, which is safe
// since a memtable keyed on (key, LSN) treats a duplicate insert as
// just another version at the same position in its per-key ordering.
func (ks *Keyspace) replayJournal(dir string, opts journal.Options) (replaySummary, error) {
	j, err := journal.Open(dir, opts)
	if err != nil {
		return replaySummary{}, wrapIO("reopen journal for recovery", err)
	}
	defer j.Close()
	return ks.replayOpenJournal(j)
}

// replayOpenJournal replays an already-open journal, used directly for
// the active journal (already held open by the journal manager) so
// recovery never has two independent file handles racing over the
// same shard files.
func (ks *Keyspace) replayOpenJournal(j *journal.Journal) (replaySummary, error) {
	recs, err := j.Iter()
	if err != nil {
		return replaySummary{}, wrapJournalRecovery("replay journal", err)
	}

	var summary replaySummary
	for _, rec := range recs {
		p, err := ks.ensurePartition(rec.Partition)
		if err != nil {
			return replaySummary{}, err
		}
		p.applyInsert(rec.Key, rec.Value, memtableKindFromJournal(rec.Kind), rec.LSN)
		if !summary.ok || rec.LSN > summary.maxLSN {
			summary.maxLSN, summary.ok = rec.LSN, true
		}
	}
	return summary, nil
}

// sealEveryPartition rotates every registered partition's active
// memtable into a sealed one and enqueues it for flush. Called after a
// sealed journal has been fully replayed: all of that journal's
// records are committed to memtables, so the journal itself can be
// garbage collected once those memtables reach disk, exactly as if
// the rotation had happened live.
func (ks *Keyspace) sealEveryPartition() error {
	ks.mu.RLock()
	names := make([]string, 0, len(ks.partitions))
	for name := range ks.partitions {
		names = append(names, name)
	}
	ks.mu.RUnlock()

	for _, name := range names {
		p, err := ks.getPartition(name)
		if err != nil {
			continue
		}
		if sealedID, sealed, ok := p.rotate(); ok {
			ks.flushManager.Enqueue(name, flush.Task{SealedID: sealedID, Partition: name, Memtable: sealed})
			ks.flushWorker.Signal()
		}
	}
	return nil
}

func memtableKindFromJournal(k journal.ValueKind) Kind {
	if k == journal.Tombstone {
		return Tombstone
	}
	return Value
}
