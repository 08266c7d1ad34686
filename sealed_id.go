package keelkv

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"strings"
	"time"
)

// newSealedID mints a lexicographically sortable identifier for a
// sealed memtable or sealed journal: base-36 month+day, hour+minute,
// subsecond nanoseconds, and a random uint32, underscore-joined. Every
// field is zero-padded to a fixed width so string
// comparison agrees with numeric/temporal order within each field;
// collisions across a keyspace are astronomically unlikely and are not
// load-bearing for correctness, only for avoiding directory-name
// clashes, so no retry loop is needed.
func newSealedID(now time.Time) string {
	var randBuf [4]byte
	// crypto/rand never fails on supported platforms; a zero fallback
	// only degrades uniqueness, never correctness.
	_, _ = rand.Read(randBuf[:])
	randomU32 := binary.BigEndian.Uint32(randBuf[:])

	monthDay := b36pad(int64(now.Month()), 2) + b36pad(int64(now.Day()), 2)
	hourMin := b36pad(int64(now.Hour()), 2) + b36pad(int64(now.Minute()), 2)
	nanos := b36pad(int64(now.Nanosecond()), 6)
	rnd := b36pad(int64(randomU32), 7)

	return strings.Join([]string{monthDay, hourMin, nanos, rnd}, "_")
}

func b36pad(v int64, width int) string {
	s := strconv.FormatInt(v, 36)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
