package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
)

// Reader is a handle on an immutable, on-disk segment. A segment holds
// every (key, LSN) version it was flushed with, so a reader can answer
// both current and snapshot-LSN queries without consulting anything
// else. Point lookups consult the bloom filter, then binary-search the
// decoded entries; range and prefix scans walk the decoded entries
// directly. The sparse index is read at Open but no lookup uses it.
type Reader struct {
	path        string
	entryCount  uint64
	index       []indexEntry
	bloom       *BloomFilter
	dataEnd     uint64 // data block ends where the index block begins
	entries     []Entry
}

// Open reads a segment's header, index and footer, and decodes its
// data block into memory. Segments produced by a flush are bounded by
// a memtable's size threshold, so holding one fully decoded is cheap
// relative to the cost of re-parsing it on every lookup.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	entryCount, indexOffset, footerOffset, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("read segment header %s: %w", path, err)
	}

	entries := make([]Entry, 0, entryCount)
	var pos uint64 = headerSize
	for pos < indexOffset {
		e, n, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("read segment entry %s: %w", path, err)
		}
		entries = append(entries, e)
		pos += uint64(n)
	}

	var index []indexEntry
	for pos < footerOffset {
		ie, n, err := readIndexEntry(r)
		if err != nil {
			return nil, fmt.Errorf("read segment index %s: %w", path, err)
		}
		index = append(index, ie)
		pos += uint64(n)
	}

	bloom, err := readFooter(r)
	if err != nil {
		return nil, fmt.Errorf("read segment footer %s: %w", path, err)
	}

	return &Reader{
		path:       path,
		entryCount: entryCount,
		index:      index,
		bloom:      bloom,
		dataEnd:    indexOffset,
		entries:    entries,
	}, nil
}

// Path returns the file this reader was opened from.
func (r *Reader) Path() string { return r.path }

// EntryCount returns the number of (key, LSN) versions stored, not the
// number of distinct keys.
func (r *Reader) EntryCount() int { return len(r.entries) }

// Get returns the newest version of key visible at or below maxLSN, if
// the segment has one. The bloom filter short-circuits keys the
// segment provably never held.
func (r *Reader) Get(key []byte, maxLSN uint64) (Entry, bool) {
	if r.bloom != nil && !r.bloom.MightContain(key) {
		return Entry{}, false
	}

	lo := sort.Search(len(r.entries), func(i int) bool {
		return string(r.entries[i].Key) >= string(key)
	})

	var best Entry
	found := false
	for i := lo; i < len(r.entries) && string(r.entries[i].Key) == string(key); i++ {
		e := r.entries[i]
		if e.LSN <= maxLSN && (!found || e.LSN > best.LSN) {
			best = e
			found = true
		}
	}
	return best, found
}

// Scan returns the newest visible version at or below maxLSN for every
// distinct key in [start, end). A nil start or end leaves that bound
// open.
func (r *Reader) Scan(start, end []byte, maxLSN uint64) []Entry {
	var out []Entry
	var lastKey []byte
	haveLast := false

	for i := 0; i < len(r.entries); i++ {
		e := r.entries[i]
		if start != nil && string(e.Key) < string(start) {
			continue
		}
		if end != nil && string(e.Key) >= string(end) {
			break
		}
		if e.LSN > maxLSN {
			continue
		}
		if haveLast && string(e.Key) == string(lastKey) {
			// A newer-but-still-visible version of the same key; since
			// entries are stored in ascending LSN order per key, later
			// visible versions supersede earlier ones already appended.
			out[len(out)-1] = e
			continue
		}
		out = append(out, e)
		lastKey = e.Key
		haveLast = true
	}
	return out
}

// PrefixScan returns the newest visible version at or below maxLSN for
// every distinct key with the given prefix.
func (r *Reader) PrefixScan(prefix []byte, maxLSN uint64) []Entry {
	end := prefixUpperBound(prefix)
	return r.Scan(prefix, end, maxLSN)
}

// First returns the smallest key's newest version visible at or below
// maxLSN, if any key in the segment is visible at that LSN.
func (r *Reader) First(maxLSN uint64) (Entry, bool) {
	entries := r.Scan(nil, nil, maxLSN)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// Last returns the largest key's newest version visible at or below
// maxLSN, if any key in the segment is visible at that LSN.
func (r *Reader) Last(maxLSN uint64) (Entry, bool) {
	entries := r.Scan(nil, nil, maxLSN)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// Close is a no-op today since Open decodes the whole segment up
// front, but is kept so callers don't need to know that.
func (r *Reader) Close() error { return nil }

func prefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; no finite upper bound
}

func readHeader(r *bufio.Reader) (entryCount, indexOffset, footerOffset uint64, err error) {
	var gotMagic, gotVersion uint32
	if err = binary.Read(r, binary.BigEndian, &gotMagic); err != nil {
		return
	}
	if gotMagic != magic {
		err = fmt.Errorf("bad segment magic %x", gotMagic)
		return
	}
	if err = binary.Read(r, binary.BigEndian, &gotVersion); err != nil {
		return
	}
	if gotVersion != formatVersion {
		err = fmt.Errorf("unsupported segment format version %d", gotVersion)
		return
	}
	if err = binary.Read(r, binary.BigEndian, &entryCount); err != nil {
		return
	}
	if err = binary.Read(r, binary.BigEndian, &indexOffset); err != nil {
		return
	}
	err = binary.Read(r, binary.BigEndian, &footerOffset)
	return
}

func readEntry(r *bufio.Reader) (Entry, int, error) {
	n := 0
	key, kn, err := readLenPrefixed(r)
	if err != nil {
		return Entry{}, 0, err
	}
	n += kn

	kindByte, err := r.ReadByte()
	if err != nil {
		return Entry{}, 0, err
	}
	n++

	value, vn, err := readLenPrefixed(r)
	if err != nil {
		return Entry{}, 0, err
	}
	n += vn

	var lsn uint64
	if err := binary.Read(r, binary.BigEndian, &lsn); err != nil {
		return Entry{}, 0, err
	}
	n += 8

	return Entry{Key: key, Value: value, Kind: Kind(kindByte), LSN: lsn}, n, nil
}

func readIndexEntry(r *bufio.Reader) (indexEntry, int, error) {
	key, kn, err := readLenPrefixed(r)
	if err != nil {
		return indexEntry{}, 0, err
	}
	var offset uint64
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return indexEntry{}, 0, err
	}
	return indexEntry{key: key, offset: offset}, kn + 8, nil
}

func readLenPrefixed(r *bufio.Reader) ([]byte, int, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, 0, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, err
	}
	return buf, 4 + int(length), nil
}

func readFooter(r *bufio.Reader) (*BloomFilter, error) {
	var size, hashCount, bitsLen uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &hashCount); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &bitsLen); err != nil {
		return nil, err
	}
	bits := make([]byte, bitsLen)
	if _, err := io.ReadFull(r, bits); err != nil {
		return nil, err
	}
	var checksum uint32
	if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(bits) != checksum {
		return nil, fmt.Errorf("bloom filter checksum mismatch")
	}
	return UnmarshalBloomFilter(int(size), int(hashCount), bits), nil
}
