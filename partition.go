package keelkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/keelkv/pkg/compaction"
	"github.com/dd0wney/keelkv/pkg/config"
	"github.com/dd0wney/keelkv/pkg/memtable"
	"github.com/dd0wney/keelkv/pkg/segment"
)

// segmentHandle is one on-disk segment registered in a partition's
// level, plus the size used for compaction's size-ratio decisions.
type segmentHandle struct {
	reader *segment.Reader
	path   string
	size   int64
}

// Partition is a named, independent key-value map inside a keyspace:
// its own active and immutable memtables and its own leveled segments.
// The active memtable accepts concurrent readers the same way a map
// protected by a RWMutex would; structural changes (rotation, segment
// registration) take the write lock.
type Partition struct {
	name string
	dir  string
	opts config.PartitionOptions

	cache    *segment.Cache
	strategy compaction.Strategy
	instant  func() uint64

	mu        sync.RWMutex
	active    *memtable.Memtable
	immutable map[string]*memtable.Memtable // sealed id -> memtable, newest-write-wins per key across these
	levels    [][]*segmentHandle

	closed atomic.Bool
}

func newPartition(name, dir string, opts config.PartitionOptions, cache *segment.Cache, strategy compaction.Strategy, instant func() uint64) (*Partition, error) {
	if err := os.MkdirAll(filepath.Join(dir, "segments"), 0o755); err != nil {
		return nil, wrapIO("create partition directory", err)
	}
	return &Partition{
		name:      name,
		dir:       dir,
		opts:      opts,
		cache:     cache,
		strategy:  strategy,
		instant:   instant,
		active:    memtable.New(),
		immutable: make(map[string]*memtable.Memtable),
	}, nil
}

// Name returns the partition's registered name.
func (p *Partition) Name() string { return p.name }

// applyInsert inserts an already-journaled mutation into the active
// memtable and returns the new approximate active size. The caller is
// responsible for having journaled the mutation first.
func (p *Partition) applyInsert(key, value []byte, kind memtable.Kind, lsn uint64) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.cache.Delete(p.cacheKey(key))
	return p.active.Insert(key, value, kind, lsn)
}

func (p *Partition) cacheKey(key []byte) string {
	return p.name + "/" + string(key)
}

// Get returns the value for key visible at or below maxLSN, if the
// newest such record is a Value rather than a Tombstone. The point
// cache holds only each key's newest value, so it is consulted (and
// filled) only when maxLSN does not cut off anything the partition has
// accepted yet; a historical maxLSN bypasses the cache entirely and
// resolves straight from the memtables and segments.
func (p *Partition) Get(key []byte, maxLSN uint64) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	current := p.instant()
	readsLatest := maxLSN >= current

	if readsLatest {
		if v, ok := p.cache.Get(p.cacheKey(key)); ok {
			return v, true
		}
	}

	best, ok := p.bestEntryLocked(key, maxLSN)
	if !ok || best.Kind == memtable.Tombstone {
		return nil, false
	}
	if readsLatest {
		p.cache.Put(p.cacheKey(key), best.Value)
	}
	return best.Value, true
}

// ContainsKey reports whether key has a visible Value at or below
// maxLSN.
func (p *Partition) ContainsKey(key []byte, maxLSN uint64) bool {
	_, ok := p.Get(key, maxLSN)
	return ok
}

func (p *Partition) bestEntryLocked(key []byte, maxLSN uint64) (memtable.Entry, bool) {
	best, ok := p.active.Get(key, maxLSN)

	for _, mt := range p.immutable {
		if e, found := mt.Get(key, maxLSN); found && (!ok || e.LSN > best.LSN) {
			best, ok = e, true
		}
	}

	for _, level := range p.levels {
		for _, seg := range level {
			if e, found := seg.reader.Get(key, maxLSN); found && (!ok || e.LSN > best.LSN) {
				best, ok = e, true
			}
		}
	}
	return best, ok
}

// visibleSetLocked merges every source into one map of distinct keys
// to their newest-visible entry at or below maxLSN. The core's scope
// is write-path durability, not a streaming merge iterator, so this
// takes the straightforward approach of materializing the merged set;
// segment counts stay small because compaction keeps levels bounded.
func (p *Partition) visibleSetLocked(maxLSN uint64) map[string]memtable.Entry {
	merged := make(map[string]memtable.Entry)

	apply := func(entries []memtable.Entry) {
		for _, e := range entries {
			if e.LSN > maxLSN {
				continue
			}
			k := string(e.Key)
			if cur, ok := merged[k]; !ok || e.LSN > cur.LSN {
				merged[k] = e
			}
		}
	}

	apply(p.active.AllVersions())
	for _, mt := range p.immutable {
		apply(mt.AllVersions())
	}
	for _, level := range p.levels {
		for _, seg := range level {
			apply(seg.reader.Scan(nil, nil, maxLSN))
		}
	}
	return merged
}

// Entry is one visible (key, value) pair returned by a scan.
type Entry struct {
	Key   []byte
	Value []byte
}

func sortedVisible(merged map[string]memtable.Entry, start, end []byte) []Entry {
	out := make([]Entry, 0, len(merged))
	for k, e := range merged {
		if e.Kind == memtable.Tombstone {
			continue
		}
		if start != nil && k < string(start) {
			continue
		}
		if end != nil && k >= string(end) {
			continue
		}
		out = append(out, Entry{Key: e.Key, Value: e.Value})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// Range returns every visible key/value pair in [start, end) at or
// below maxLSN, in ascending key order. A nil start or end leaves that
// bound open.
func (p *Partition) Range(start, end []byte, maxLSN uint64) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedVisible(p.visibleSetLocked(maxLSN), start, end)
}

// Prefix returns every visible key/value pair whose key has the given
// prefix, at or below maxLSN, in ascending key order.
func (p *Partition) Prefix(prefix []byte, maxLSN uint64) []Entry {
	end := prefixUpperBound(prefix)
	return p.Range(prefix, end, maxLSN)
}

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// Iter returns every visible key/value pair in ascending key order.
func (p *Partition) Iter(maxLSN uint64) []Entry {
	return p.Range(nil, nil, maxLSN)
}

// IterRev returns every visible key/value pair in descending key
// order.
func (p *Partition) IterRev(maxLSN uint64) []Entry {
	forward := p.Iter(maxLSN)
	out := make([]Entry, len(forward))
	for i, e := range forward {
		out[len(forward)-1-i] = e
	}
	return out
}

// FirstKeyValue returns the smallest visible key and its value.
func (p *Partition) FirstKeyValue(maxLSN uint64) (Entry, bool) {
	entries := p.Iter(maxLSN)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// LastKeyValue returns the largest visible key and its value.
func (p *Partition) LastKeyValue(maxLSN uint64) (Entry, bool) {
	entries := p.Iter(maxLSN)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// Len returns the exact number of distinct visible keys at the
// partition's current instant.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(sortedVisible(p.visibleSetLocked(p.instant()), nil, nil))
}

// ApproximateLen estimates the number of visible keys by summing each
// in-memory memtable's own visible-key count, skipping on-disk
// segments. Cheap, but neither a lower nor an upper bound: keys that
// live only in segments are not counted, a key present in several
// memtables is counted once per memtable, and a key deleted in a newer
// memtable is still counted from an older one that holds its value.
func (p *Partition) ApproximateLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	maxLSN := p.instant()
	count := p.active.VisibleLen(maxLSN)
	for _, mt := range p.immutable {
		count += mt.VisibleLen(maxLSN)
	}
	return count
}

// IsEmpty reports whether the partition currently has no visible
// keys.
func (p *Partition) IsEmpty() bool {
	return p.Len() == 0
}

// Snapshot pins the partition's current instant so later reads
// against the returned LSN see a consistent point-in-time view even
// as new writes continue to arrive.
func (p *Partition) Snapshot() uint64 {
	return p.instant()
}

// DiskSpace sums the sizes of every segment file registered to this
// partition.
func (p *Partition) DiskSpace() (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total int64
	for _, level := range p.levels {
		for _, seg := range level {
			if seg.size > 0 {
				total += seg.size
				continue
			}
			info, err := os.Stat(seg.path)
			if err != nil {
				return 0, wrapIO("stat segment", err)
			}
			total += info.Size()
		}
	}
	return total, nil
}

// rotate seals the active memtable under a freshly minted id and
// installs a new empty one. The caller must already hold the journal
// full lock and this partition's registry-level bookkeeping; rotate
// itself takes the tree write lock only for the pointer swap. Returns
// ok=false if the active memtable was already empty (a concurrent
// rotation already drained it), per the rotation short-circuit rule.
func (p *Partition) rotate() (sealedID string, sealed *memtable.Memtable, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active.IsEmpty() {
		return "", nil, false
	}

	id := newSealedID(time.Now())
	sealed = p.active
	p.immutable[id] = sealed
	p.active = memtable.New()
	return id, sealed, true
}

// maxLSN returns the active memtable's max observed LSN, or false if
// it is empty, used to build the rotation seqno snapshot.
func (p *Partition) maxLSN() (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.MaxLSN()
}

// registerSegment adds a newly flushed segment to L0 and drops the
// immutable memtable it was written from.
func (p *Partition) registerSegment(sealedID string, handle *segmentHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.levels) == 0 {
		p.levels = append(p.levels, nil)
	}
	p.levels[0] = append(p.levels[0], handle)
	delete(p.immutable, sealedID)
}

// l0Count returns the number of L0 segments, used for write-stall and
// compaction-notify decisions.
func (p *Partition) l0Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.levels) == 0 {
		return 0
	}
	return len(p.levels[0])
}

// levelsSnapshot returns the current per-level segment layout for the
// compaction strategy to inspect.
func (p *Partition) levelsSnapshot() [][]compaction.SegmentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([][]compaction.SegmentInfo, len(p.levels))
	for i, level := range p.levels {
		infos := make([]compaction.SegmentInfo, len(level))
		for j, seg := range level {
			infos[j] = compaction.SegmentInfo{Path: seg.path, Size: seg.size}
		}
		out[i] = infos
	}
	return out
}

func (p *Partition) segmentDir() string {
	return filepath.Join(p.dir, "segments")
}

func (p *Partition) segmentPath(sealedID string) string {
	return filepath.Join(p.segmentDir(), fmt.Sprintf("%s.seg", sealedID))
}
