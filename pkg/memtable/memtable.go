// Package memtable implements the per-partition, ordered, in-memory
// write buffer keyed by (user key, LSN). Unlike a single-version write
// buffer that keeps only the latest write per key, this one retains
// every version inserted so a snapshot read pinned to an older LSN
// still resolves correctly while the write is still in memory.
package memtable

import (
	"bytes"
	"sort"
	"sync"
)

// Kind distinguishes a live value from a tombstone.
type Kind uint8

const (
	Value Kind = iota
	Tombstone
)

// Entry is one (key, LSN) -> (value, kind) record.
type Entry struct {
	Key   []byte
	Value []byte
	Kind  Kind
	LSN   uint64
}

// perEntryOverhead approximates the bookkeeping cost of one entry
// beyond its raw key/value bytes (slice headers, map entry, version
// slice growth) — a deterministic constant, not a measurement, kept
// fixed so tiny keys/values still register in the size accounting.
const perEntryOverhead = 48

// Memtable is an ordered, in-memory structure over (key, LSN) pairs.
// Safe for concurrent use.
type Memtable struct {
	mu       sync.RWMutex
	versions map[string][]Entry // key -> versions, ascending LSN
	keys     []string           // distinct keys
	sorted   bool

	size    int64
	minLSN  uint64
	maxLSN  uint64
	hasLSN  bool
	entries int
}

// New creates an empty memtable.
func New() *Memtable {
	return &Memtable{versions: make(map[string][]Entry)}
}

// Insert writes an entry, bumps the approximate size, and returns the
// new total size. The entry is placed by LSN among the key's existing
// versions, so they stay in ascending LSN order even when concurrent
// writers apply their mutations out of LSN order.
func (m *Memtable) Insert(key, value []byte, kind Kind, lsn uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyStr := string(key)
	if _, exists := m.versions[keyStr]; !exists {
		m.keys = append(m.keys, keyStr)
		m.sorted = false
	}

	entry := Entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), Kind: kind, LSN: lsn}
	vs := m.versions[keyStr]
	pos := sort.Search(len(vs), func(i int) bool { return vs[i].LSN > lsn })
	vs = append(vs, Entry{})
	copy(vs[pos+1:], vs[pos:])
	vs[pos] = entry
	m.versions[keyStr] = vs

	m.size += int64(len(key) + len(value) + perEntryOverhead)
	m.entries++

	if !m.hasLSN || lsn < m.minLSN {
		m.minLSN = lsn
	}
	if !m.hasLSN || lsn > m.maxLSN {
		m.maxLSN = lsn
	}
	m.hasLSN = true

	return m.size
}

// Get returns the newest entry for key whose LSN is <= maxLSN, if any.
func (m *Memtable) Get(key []byte, maxLSN uint64) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.versions[string(key)]
	if !ok {
		return Entry{}, false
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].LSN <= maxLSN {
			return versions[i], true
		}
	}
	return Entry{}, false
}

// MaxLSN returns the maximum LSN inserted, or false if empty.
func (m *Memtable) MaxLSN() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxLSN, m.hasLSN
}

// MinLSN returns the minimum LSN inserted, or false if empty.
func (m *Memtable) MinLSN() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minLSN, m.hasLSN
}

// Size returns the approximate byte size.
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// EntryCount returns the total number of versions stored (not distinct
// keys).
func (m *Memtable) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries
}

// IsEmpty reports whether the memtable holds no entries.
func (m *Memtable) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries == 0
}

func (m *Memtable) ensureSortedLocked() {
	if !m.sorted {
		sort.Strings(m.keys)
		m.sorted = true
	}
}

// VisibleLen returns the number of distinct keys whose newest record at
// or below maxLSN is a Value, not a Tombstone.
func (m *Memtable) VisibleLen(maxLSN uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSortedLocked()

	count := 0
	for _, k := range m.keys {
		if newestAtOrBelow(m.versions[k], maxLSN, Value) {
			count++
		}
	}
	return count
}

func newestAtOrBelow(versions []Entry, maxLSN uint64, want Kind) bool {
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].LSN <= maxLSN {
			return versions[i].Kind == want
		}
	}
	return false
}

// AllVersions returns every (key, LSN) version in the memtable, sorted
// by key then LSN ascending — the form a flush writes out to a segment,
// preserving every version so snapshot reads against older LSNs inside
// a single sealed memtable still resolve correctly.
func (m *Memtable) AllVersions() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSortedLocked()

	out := make([]Entry, 0, m.entries)
	for _, k := range m.keys {
		out = append(out, m.versions[k]...)
	}
	return out
}

// Scan returns the newest visible (Value-kind) entry per key in
// [start, end) at or below maxLSN, ascending by key.
func (m *Memtable) Scan(start, end []byte, maxLSN uint64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSortedLocked()

	var out []Entry
	for _, k := range m.keys {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			break
		}
		if e, ok := newestEntryAtOrBelow(m.versions[k], maxLSN); ok && e.Kind == Value {
			out = append(out, e)
		}
	}
	return out
}

// PrefixScan returns the newest visible entry per key starting with
// prefix, ascending by key.
func (m *Memtable) PrefixScan(prefix []byte, maxLSN uint64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSortedLocked()

	var out []Entry
	for _, k := range m.keys {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if e, ok := newestEntryAtOrBelow(m.versions[k], maxLSN); ok && e.Kind == Value {
			out = append(out, e)
		}
	}
	return out
}

func newestEntryAtOrBelow(versions []Entry, maxLSN uint64) (Entry, bool) {
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].LSN <= maxLSN {
			return versions[i], true
		}
	}
	return Entry{}, false
}

// First returns the smallest visible key-value pair at or below maxLSN.
func (m *Memtable) First(maxLSN uint64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSortedLocked()

	for _, k := range m.keys {
		if e, ok := newestEntryAtOrBelow(m.versions[k], maxLSN); ok && e.Kind == Value {
			return e, true
		}
	}
	return Entry{}, false
}

// Last returns the largest visible key-value pair at or below maxLSN.
func (m *Memtable) Last(maxLSN uint64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSortedLocked()

	for i := len(m.keys) - 1; i >= 0; i-- {
		k := m.keys[i]
		if e, ok := newestEntryAtOrBelow(m.versions[k], maxLSN); ok && e.Kind == Value {
			return e, true
		}
	}
	return Entry{}, false
}
