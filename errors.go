// Package keelkv is an embeddable, persistent, ordered key-value store
// built on the log-structured merge pattern. A single process-level
// keyspace partitions its data into named, independent partitions that
// share a durability journal and background workers but keep private
// on-disk trees and private memtables.
package keelkv

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every write-path and recovery failure wraps one of
// these sentinels so callers can branch with errors.Is rather than
// string matching.
var (
	// ErrIO means an underlying storage or file-system call failed. The
	// operation is aborted and the caller sees the wrapped cause.
	ErrIO = errors.New("keelkv: io error")

	// ErrStorage is a logical error from the segment/tree layer:
	// corruption, deserialization failure, or a checksum mismatch on
	// read.
	ErrStorage = errors.New("keelkv: storage error")

	// ErrJournalRecovery means an unreadable record was found during
	// recovery at a non-trailing position. It is fatal for that
	// keyspace open; a trailing torn record is not an error (see the
	// shard readAll handling in the journal package).
	ErrJournalRecovery = errors.New("keelkv: journal recovery error")

	// ErrPoisoned is the taxonomy's tag for a lock poisoned by a
	// panicking writer. No code path in this package returns it: a
	// panic while a lock is held is neither recovered nor recorded, and
	// later operations are not failed because of it.
	ErrPoisoned = errors.New("keelkv: poisoned")

	// ErrPartitionNotFound is returned by lookups against an unknown
	// partition name.
	ErrPartitionNotFound = errors.New("keelkv: partition not found")

	// ErrClosed is returned by any operation on a keyspace after Close
	// has been called.
	ErrClosed = errors.New("keelkv: keyspace closed")
)

// wrapIO wraps err with ErrIO unless err is already nil.
func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrIO, err)
}

// wrapStorage wraps err with ErrStorage unless err is already nil.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorage, err)
}

// wrapJournalRecovery wraps err with ErrJournalRecovery unless err is
// already nil.
func wrapJournalRecovery(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrJournalRecovery, err)
}
