package journal

import (
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
)

// Options configures a Journal directory.
type Options struct {
	ShardCount  int
	Compression Compression
	Fsync       FsyncPolicy
}

// DefaultOptions returns the journal defaults: 4 shards, no
// compression, fsync on every write.
func DefaultOptions() Options {
	return Options{
		ShardCount:  4,
		Compression: NoCompression,
		Fsync:       FsyncPerWrite,
	}
}

// Journal is one journal directory (either the active journal or a
// single sealed journal) made of N parallel shards.
type Journal struct {
	dir    string
	shards []*shard
	next   atomic.Uint64 // round-robin cursor over shards
	opts   Options
}

// Open opens (or creates) a journal directory with the configured
// shard count.
func Open(dir string, opts Options) (*Journal, error) {
	if opts.ShardCount <= 0 {
		opts.ShardCount = 4
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &Journal{dir: dir, opts: opts}
	for i := 0; i < opts.ShardCount; i++ {
		s, err := openShard(dir, i, opts.Compression, opts.Fsync)
		if err != nil {
			j.Close()
			return nil, err
		}
		j.shards = append(j.shards, s)
	}
	return j, nil
}

// Dir returns the journal's on-disk directory.
func (j *Journal) Dir() string {
	return j.dir
}

// pickShard selects a shard round-robin; concurrent writers on
// different shards proceed in parallel.
func (j *Journal) pickShard() *shard {
	i := j.next.Add(1) - 1
	return j.shards[int(i)%len(j.shards)]
}

// Append writes one record to a round-robin shard and returns after
// the configured durability barrier. The caller must not apply the
// mutation to any memtable if this returns an error.
func (j *Journal) Append(rec *Record) error {
	s := j.pickShard()
	return s.append(rec)
}

// AppendBatch writes every record of a single batch to ONE shard, in
// order, with a single flush/fsync. Records carry no batch marker, so
// after a crash mid-write recovery can read back a leading part of the
// batch.
func (j *Journal) AppendBatch(recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	s := j.pickShard()
	return s.appendBatch(recs)
}

// Flush forces all shards to persistent storage. A Flush call is a
// durability barrier.
func (j *Journal) Flush() error {
	for _, s := range j.shards {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

// DiskSpaceUsed sums the on-disk size of every shard file.
func (j *Journal) DiskSpaceUsed() (int64, error) {
	var total int64
	for _, s := range j.shards {
		n, err := s.diskSpaceUsed()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Iter yields every record across all shards of this journal directory,
// sorted by LSN, which recovery correctness requires.
func (j *Journal) Iter() ([]*Record, error) {
	var all []*Record
	for _, s := range j.shards {
		recs, err := s.readAll()
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].LSN < all[k].LSN })
	return all, nil
}

// Close flushes and closes every shard.
func (j *Journal) Close() error {
	var firstErr error
	for _, s := range j.shards {
		if s == nil {
			continue
		}
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Remove closes the journal and deletes its directory.
func (j *Journal) Remove() error {
	if err := j.Close(); err != nil {
		return err
	}
	return os.RemoveAll(j.dir)
}

// ShardDirs returns the shard subdirectory names in shard index order.
func (j *Journal) ShardDirs() []string {
	names := make([]string, len(j.shards))
	for i, s := range j.shards {
		names[i] = filepath.Base(filepath.Dir(s.path))
	}
	return names
}
