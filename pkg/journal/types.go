// Package journal implements the shared, sharded write-ahead log that
// every keyspace mutation passes through before it is applied to any
// memtable. Record framing and crash recovery work by truncating a
// torn tail; a journal directory holds N independent shards so writers
// on different shards never block each other.
package journal

import "fmt"

// ValueKind distinguishes a live value from a tombstone.
type ValueKind uint8

const (
	// Value marks a live, readable value.
	Value ValueKind = iota
	// Tombstone marks a key as deleted until shadowed or compacted away.
	Tombstone
)

func (k ValueKind) String() string {
	switch k {
	case Value:
		return "value"
	case Tombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Record is a single durable journal entry. Records within one shard
// are ordered; across shards ordering is
// defined only by LSN.
type Record struct {
	Partition string
	Key       []byte
	Value     []byte
	Kind      ValueKind
	LSN       uint64
}

// Compression selects the optional payload compression applied to a
// journal shard's value field.
type Compression uint8

const (
	// NoCompression stores record values verbatim.
	NoCompression Compression = iota
	// Snappy compresses each record's value with golang/snappy before
	// writing. Keys and framing are never compressed, so a truncated
	// trailing record is still detectable byte-exact.
	Snappy
)

// FsyncPolicy controls how aggressively Append durably persists
// records.
type FsyncPolicy uint8

const (
	// FsyncPerWrite fsyncs the shard file after every Append/AppendBatch.
	FsyncPerWrite FsyncPolicy = iota
	// FsyncInterval skips the per-append fsync; Append only flushes the
	// buffered writer, not the file descriptor. No background timer
	// runs, so records reach stable storage only on an explicit Flush().
	FsyncInterval
	// FsyncNone never fsyncs except on an explicit Flush() call.
	FsyncNone
)
