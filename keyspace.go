package keelkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/keelkv/pkg/compaction"
	"github.com/dd0wney/keelkv/pkg/config"
	"github.com/dd0wney/keelkv/pkg/flush"
	"github.com/dd0wney/keelkv/pkg/journal"
	"github.com/dd0wney/keelkv/pkg/memtable"
	"github.com/dd0wney/keelkv/pkg/metrics"
	"github.com/dd0wney/keelkv/pkg/segment"
)

// Kind distinguishes a live value from a tombstone at the public API
// surface; an alias over memtable.Kind so callers never need to import
// pkg/memtable directly for a Batch call.
type Kind = memtable.Kind

const (
	Value     = memtable.Value
	Tombstone = memtable.Tombstone
)

// BatchOp is one operation inside a Batch call.
type BatchOp struct {
	Partition string
	Key       []byte
	Value     []byte
	Kind      Kind
}

// Keyspace is the top-level handle: a shared journal and background
// workers over a registry of independent partitions. Every mutation
// flows through Keyspace so it can assign the mutation's LSN and
// journal it before any partition ever sees it.
type Keyspace struct {
	dir string
	cfg config.Config

	seqno atomic.Uint64 // next LSN to hand out

	mu         sync.RWMutex
	partitions map[string]*Partition

	journals          *journalManager
	flushManager      *flush.Manager
	flushWorker       *flush.Worker
	compactionManager *compaction.Manager
	strategy          compaction.Strategy

	cache   *segment.Cache
	metrics *metrics.Registry
	meta    *config.Meta

	closed atomic.Bool
}

// Open opens or creates a keyspace at cfg.Path, replaying its journals
// and starting the flush and compaction workers.
func Open(cfg config.Config) (*Keyspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, wrapIO("create keyspace directory", err)
	}

	meta, err := config.LoadOrCreateMeta(cfg.Path)
	if err != nil {
		return nil, err
	}

	jOpts := journal.Options{
		ShardCount:  cfg.JournalShardCount,
		Compression: journal.NoCompression,
		Fsync:       toJournalFsyncPolicy(cfg.FsyncPolicy),
	}
	if jOpts.ShardCount <= 0 {
		jOpts.ShardCount = journal.DefaultOptions().ShardCount
	}

	jm, err := newJournalManager(cfg.Path, jOpts)
	if err != nil {
		return nil, err
	}

	ks := &Keyspace{
		dir:          cfg.Path,
		cfg:          cfg,
		partitions:   make(map[string]*Partition),
		journals:     jm,
		flushManager: flush.NewManager(),
		strategy:     compaction.DefaultLeveledStrategy(),
		cache:        segment.NewCache(cfg.BlockCacheCapacity),
		metrics:      metrics.NewRegistry(),
		meta:         meta,
	}
	ks.flushWorker = flush.NewWorker(ks.flushManager, 64, ks.runFlush)
	ks.compactionManager = compaction.NewManager(ks.runCompaction)

	if err := ks.recover(); err != nil {
		return nil, err
	}

	ks.flushWorker.Start()
	ks.compactionManager.Start()

	return ks, nil
}

func toJournalFsyncPolicy(p config.FsyncPolicy) journal.FsyncPolicy {
	switch p {
	case config.FsyncInterval:
		return journal.FsyncInterval
	case config.FsyncNone:
		return journal.FsyncNone
	default:
		return journal.FsyncPerWrite
	}
}

// Close stops the background workers and flushes the active journal.
// Any sealed memtable still waiting in the flush queue is left on disk
// to be recovered from the journal on next Open.
func (ks *Keyspace) Close() error {
	if !ks.closed.CompareAndSwap(false, true) {
		return nil
	}
	ks.flushWorker.Stop()
	ks.compactionManager.Stop()
	return wrapIO("close journal manager", ks.journals.Close())
}

// Metrics returns the keyspace's private Prometheus registry.
func (ks *Keyspace) Metrics() *metrics.Registry { return ks.metrics }

// Instant returns the current LSN watermark: every mutation accepted
// so far has an LSN strictly below this value, so it is a valid
// maxLSN bound for a read that should see everything committed up to
// now.
func (ks *Keyspace) Instant() uint64 { return ks.seqno.Load() }

func (ks *Keyspace) nextLSN() uint64 {
	return ks.seqno.Add(1) - 1
}

// OpenPartition registers a partition under name with opts, creating
// its on-disk directory if this is the first time it has been opened.
// Reopening an already-registered partition returns the existing
// handle; opts from that first creation (or from recovery's default
// auto-open) stick for the partition's lifetime.
func (ks *Keyspace) OpenPartition(name string, opts config.PartitionOptions) (*Partition, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if p, ok := ks.partitions[name]; ok {
		return p, nil
	}

	dir := filepath.Join(ks.dir, "partitions", name)
	p, err := newPartition(name, dir, opts, ks.cache, ks.strategy, ks.Instant)
	if err != nil {
		return nil, err
	}
	ks.partitions[name] = p
	ks.flushManager.Touch(name)
	return p, nil
}

// DeletePartition unregisters a partition and removes its on-disk
// directory. Any flush tasks still queued for it are discarded.
func (ks *Keyspace) DeletePartition(name string) error {
	ks.mu.Lock()
	p, ok := ks.partitions[name]
	if !ok {
		ks.mu.Unlock()
		return fmt.Errorf("partition %q: %w", name, ErrPartitionNotFound)
	}
	delete(ks.partitions, name)
	ks.mu.Unlock()

	ks.flushManager.RemovePartition(name)
	return wrapIO("remove partition directory", os.RemoveAll(p.dir))
}

func (ks *Keyspace) getPartition(name string) (*Partition, error) {
	ks.mu.RLock()
	p, ok := ks.partitions[name]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("partition %q: %w", name, ErrPartitionNotFound)
	}
	return p, nil
}

// ensurePartition returns the named partition, auto-opening it with
// default options if recovery encounters a journal record for a
// partition nobody has registered yet in this process.
func (ks *Keyspace) ensurePartition(name string) (*Partition, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if p, ok := ks.partitions[name]; ok {
		return p, nil
	}

	dir := filepath.Join(ks.dir, "partitions", name)
	p, err := newPartition(name, dir, config.DefaultPartitionOptions(), ks.cache, ks.strategy, ks.Instant)
	if err != nil {
		return nil, err
	}
	ks.partitions[name] = p
	ks.flushManager.Touch(name)
	return p, nil
}

// Insert journals and applies a live value for key in partition.
func (ks *Keyspace) Insert(partitionName string, key, value []byte) error {
	return ks.write(partitionName, key, value, Value)
}

// Remove journals and applies a tombstone for key in partition.
func (ks *Keyspace) Remove(partitionName string, key []byte) error {
	return ks.write(partitionName, key, nil, Tombstone)
}

func (ks *Keyspace) write(partitionName string, key, value []byte, kind Kind) error {
	if ks.closed.Load() {
		return ErrClosed
	}
	p, err := ks.getPartition(partitionName)
	if err != nil {
		return err
	}

	start := time.Now()
	lsn := ks.nextLSN()

	rec := &journal.Record{Partition: partitionName, Key: key, Value: value, Kind: toJournalKind(kind), LSN: lsn}
	if err := ks.journals.Active().Append(rec); err != nil {
		ks.metrics.RecordOperation(operationName(kind), "error", time.Since(start), 0)
		return wrapIO("journal append", err)
	}

	size := p.applyInsert(key, value, kind, lsn)
	ks.metrics.RecordOperation(operationName(kind), "ok", time.Since(start), len(key)+len(value))

	if size > p.opts.MaxMemtableSize {
		if err := ks.rotatePartition(p); err != nil {
			return err
		}
	}

	ks.throttleOnL0(p, partitionName)
	return nil
}

// Batch journals and applies every op: all records land on one journal
// shard, in order, with one flush/fsync, and if that append fails no
// op is applied to any memtable. Each record is framed and checksummed
// on its own, with no batch marker, so a crash in the middle of the
// write can leave a leading part of the batch in the journal, and
// recovery replays that part.
func (ks *Keyspace) Batch(ops []BatchOp) error {
	if ks.closed.Load() {
		return ErrClosed
	}
	if len(ops) == 0 {
		return nil
	}

	start := time.Now()
	first := ks.seqno.Add(uint64(len(ops))) - uint64(len(ops))

	partitions := make([]*Partition, len(ops))
	records := make([]*journal.Record, len(ops))
	for i, op := range ops {
		p, err := ks.getPartition(op.Partition)
		if err != nil {
			return err
		}
		partitions[i] = p
		records[i] = &journal.Record{Partition: op.Partition, Key: op.Key, Value: op.Value, Kind: toJournalKind(op.Kind), LSN: first + uint64(i)}
	}

	if err := ks.journals.Active().AppendBatch(records); err != nil {
		ks.metrics.RecordOperation("batch", "error", time.Since(start), 0)
		return wrapIO("journal append batch", err)
	}

	touched := make(map[string]*Partition, len(ops))
	var bytes int
	for i, op := range ops {
		p := partitions[i]
		p.applyInsert(op.Key, op.Value, op.Kind, first+uint64(i))
		touched[op.Partition] = p
		bytes += len(op.Key) + len(op.Value)
	}
	ks.metrics.RecordOperation("batch", "ok", time.Since(start), bytes)

	for name, p := range touched {
		if p.active.Size() > p.opts.MaxMemtableSize {
			if err := ks.rotatePartition(p); err != nil {
				return err
			}
		}
		ks.throttleOnL0(p, name)
	}
	return nil
}

func operationName(kind Kind) string {
	if kind == Tombstone {
		return "remove"
	}
	return "insert"
}

func toJournalKind(kind Kind) journal.ValueKind {
	if kind == Tombstone {
		return journal.Tombstone
	}
	return journal.Value
}

// throttleOnL0 signals compaction and, if this partition's L0 segment
// count is high enough to risk unbounded read amplification, sleeps
// the calling writer briefly so compaction has a chance to catch up.
func (ks *Keyspace) throttleOnL0(p *Partition, partitionName string) {
	n := p.l0Count()
	ks.metrics.SetL0SegmentCount(partitionName, n)
	if n <= 16 {
		return
	}
	ks.compactionManager.Notify(partitionName)
	if n > 18 {
		time.Sleep(500 * time.Millisecond)
	} else {
		time.Sleep(100 * time.Millisecond)
	}
}

// l0WriteStallThreshold is the L0 segment count past which a partition
// stops being merely throttled (see throttleOnL0) and instead holds
// every writer until compaction drains it: a backpressure plateau
// rather than unbounded L0 growth.
const l0WriteStallThreshold = 20

// checkWriteStall blocks the calling writer while any partition's L0
// segment count remains above l0WriteStallThreshold, notifying
// compaction for every over-threshold partition and re-checking once a
// second until all of them have drained back under the limit.
func (ks *Keyspace) checkWriteStall() error {
	stalling := ks.partitionsOverL0Plateau()
	if len(stalling) == 0 {
		return nil
	}

	ks.metrics.SetStallActive(true)
	defer ks.metrics.SetStallActive(false)
	stallStart := time.Now()
	defer func() { ks.metrics.RecordStall(time.Since(stallStart)) }()

	for len(stalling) > 0 {
		for _, name := range stalling {
			ks.compactionManager.Notify(name)
		}
		time.Sleep(time.Second)
		stalling = ks.partitionsOverL0Plateau()
	}
	return nil
}

// partitionsOverL0Plateau returns the names of every registered
// partition whose L0 segment count exceeds l0WriteStallThreshold.
func (ks *Keyspace) partitionsOverL0Plateau() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var stalling []string
	for name, p := range ks.partitions {
		if p.l0Count() > l0WriteStallThreshold {
			stalling = append(stalling, name)
		}
	}
	return stalling
}

// rotatePartition seals p's active memtable, rotates the shared
// journal under the same full lock, enqueues the sealed memtable for
// flush, and then runs the proactive-drain and write-halt backpressure
// checks followed by the L0 write-stall check.
func (ks *Keyspace) rotatePartition(p *Partition) error {
	if err := ks.rotateOne(p, "size"); err != nil {
		return err
	}
	if err := ks.applyBackpressure(); err != nil {
		return err
	}
	return ks.checkWriteStall()
}

func (ks *Keyspace) rotateOne(p *Partition, trigger string) error {
	full := ks.journals.Active().FullLock()
	defer full.Unlock()

	// Snapshot before the swap so p's own max LSN is recorded against
	// the journal generation that holds its records.
	seqnoSnapshot := ks.seqnoSnapshotLocked()

	sealedID, sealed, ok := p.rotate()
	if !ok {
		// Nothing in this partition's active memtable to seal (a
		// concurrent rotation already drained it); rotating the
		// journal too would only produce an empty sealed journal, so
		// skip it.
		return nil
	}

	if _, _, err := ks.journals.Rotate(seqnoSnapshot); err != nil {
		return err
	}

	ks.flushManager.Enqueue(p.name, flush.Task{SealedID: sealedID, Partition: p.name, Memtable: sealed})
	ks.metrics.RecordRotation(p.name, trigger)
	ks.metrics.RecordJournalRotation()
	ks.metrics.SetFlushQueueDepth(p.name, ks.flushManager.QueueDepth())
	ks.flushWorker.Signal()
	return nil
}

// seqnoSnapshotLocked builds the partition -> max-LSN map recorded
// against the journal generation being sealed. Must be called with no
// partition's active memtable concurrently swapped out from under it,
// which the caller's full-lock hold guarantees.
func (ks *Keyspace) seqnoSnapshotLocked() map[string]uint64 {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	snap := make(map[string]uint64, len(ks.partitions))
	for name, p := range ks.partitions {
		if lsn, ok := p.maxLSN(); ok {
			snap[name] = lsn
		}
	}
	return snap
}

// applyBackpressure implements the two journal disk-space thresholds:
// at 2/3 of the configured budget it proactively rotates the least
// recently rotated partition once; past the full budget it halts
// writers in a loop, rotating the least recently used partition again
// on every iteration, until usage falls back under budget.
func (ks *Keyspace) applyBackpressure() error {
	budget := ks.cfg.MaxJournalingSizeBytes
	if budget <= 0 {
		return nil
	}

	used, err := ks.journals.DiskSpaceUsed()
	if err != nil {
		return err
	}
	ks.metrics.SetJournalDiskUsage(used)

	if used > (budget*2)/3 {
		if err := ks.drainLeastRecentlyUsed(); err != nil {
			return err
		}
	}

	if used <= budget {
		return nil
	}

	ks.metrics.SetStallActive(true)
	defer ks.metrics.SetStallActive(false)
	stallStart := time.Now()
	defer func() { ks.metrics.RecordStall(time.Since(stallStart)) }()

	for {
		used, err = ks.journals.DiskSpaceUsed()
		if err != nil {
			return err
		}
		ks.metrics.SetJournalDiskUsage(used)
		if used <= budget {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
		if err := ks.drainLeastRecentlyUsed(); err != nil {
			return err
		}
	}
}

func (ks *Keyspace) drainLeastRecentlyUsed() error {
	name, ok := ks.flushManager.LeastRecentlyUsed()
	if !ok {
		return nil
	}
	p, err := ks.getPartition(name)
	if err != nil {
		return nil
	}
	return ks.rotateOne(p, "proactive-drain")
}

// Persist forces the active journal's buffered writers to durable
// storage, a barrier any caller can use to make recently accepted
// writes durable. Under the interval and none fsync policies this is
// the only call that fsyncs the journal.
func (ks *Keyspace) Persist() error {
	return wrapIO("flush active journal", ks.journals.Active().Flush())
}

func toSegmentEntries(in []memtable.Entry) []segment.Entry {
	out := make([]segment.Entry, len(in))
	for i, e := range in {
		out[i] = segment.Entry{Key: e.Key, Value: e.Value, Kind: segment.Kind(e.Kind), LSN: e.LSN}
	}
	return out
}

// runFlush is the flush worker's WorkFunc: it writes every collected
// sealed memtable out as a segment, registers it in L0, and once a
// partition's whole batch has landed asks the journal manager to
// discard any sealed journal now fully covered by durable segments.
func (ks *Keyspace) runFlush(collected map[string][]flush.Task) error {
	for partitionName, tasks := range collected {
		p, err := ks.getPartition(partitionName)
		if err != nil {
			// Partition was deleted after these tasks were queued;
			// drop them so the queue doesn't grow forever.
			ks.flushManager.Dequeue(partitionName, len(tasks))
			continue
		}

		var maxPersisted uint64
		var sawAny bool
		for _, task := range tasks {
			start := time.Now()
			entries := toSegmentEntries(task.Memtable.AllVersions())
			path := p.segmentPath(task.SealedID)
			reader, err := segment.Write(path, entries)
			if err != nil {
				return wrapIO(fmt.Sprintf("write segment for partition %s", partitionName), err)
			}

			size := int64(0)
			if info, statErr := os.Stat(path); statErr == nil {
				size = info.Size()
			}
			p.registerSegment(task.SealedID, &segmentHandle{reader: reader, path: path, size: size})
			ks.metrics.RecordFlush(partitionName, time.Since(start))

			if lsn, ok := task.Memtable.MaxLSN(); ok && (!sawAny || lsn > maxPersisted) {
				maxPersisted, sawAny = lsn, true
			}
		}

		ks.flushManager.Dequeue(partitionName, len(tasks))
		ks.metrics.SetFlushQueueDepth(partitionName, ks.flushManager.QueueDepth())
		ks.metrics.SetL0SegmentCount(partitionName, p.l0Count())

		if sawAny {
			if err := ks.journals.Compact(partitionName, maxPersisted); err != nil {
				return err
			}
		}
		ks.compactionManager.Notify(partitionName)
	}
	return nil
}

// runCompaction is the compaction manager's WorkFunc. Selecting and
// running an actual merge is an opaque operation the strategy and its
// caller own together; here the strategy only decides whether a plan
// exists, which keeps the decision testable without a real merge
// implementation in the loop.
func (ks *Keyspace) runCompaction(partitionName string) error {
	p, err := ks.getPartition(partitionName)
	if err != nil {
		return nil
	}
	plan := p.strategy.SelectCompaction(p.levelsSnapshot())
	if plan == nil {
		return nil
	}
	ks.metrics.RecordCompactionNotify(partitionName)
	return nil
}
