package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
)

// Write creates a new immutable segment file at path from entries.
// Entries are sorted by key then ascending LSN before anything is
// written, so a single pass produces the sparse index alongside the
// data block.
func Write(path string, entries []Entry) (*Reader, error) {
	sort.SliceStable(entries, func(i, k int) bool {
		if string(entries[i].Key) != string(entries[k].Key) {
			return string(entries[i].Key) < string(entries[k].Key)
		}
		return entries[i].LSN < entries[k].LSN
	})

	bloom := NewBloomFilter(len(entries), 0.01)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		k := string(e.Key)
		if _, ok := seen[k]; !ok {
			bloom.Add(e.Key)
			seen[k] = struct{}{}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	// Placeholder header; indexOffset and footerOffset are patched in
	// once the data and index blocks have actually been written.
	if err := writeHeader(w, uint64(len(entries)), 0, 0); err != nil {
		f.Close()
		return nil, err
	}

	offset := uint64(headerSize)
	var index []indexEntry
	for i, e := range entries {
		if i%indexInterval == 0 {
			index = append(index, indexEntry{key: e.Key, offset: offset})
		}
		n, err := writeEntry(w, e)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += uint64(n)
	}

	indexOffset := offset
	for _, ie := range index {
		n, err := writeIndexEntry(w, ie)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += uint64(n)
	}

	footerOffset := offset
	bits := bloom.MarshalBits()
	if err := writeFooter(w, bloom.Size(), bloom.HashCount(), bits); err != nil {
		f.Close()
		return nil, err
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}

	// Patch in the real offsets now that we know them.
	if err := patchOffsets(f, indexOffset, footerOffset); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return Open(path)
}

func patchOffsets(f *os.File, indexOffset, footerOffset uint64) error {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], indexOffset)
	binary.BigEndian.PutUint64(buf[8:16], footerOffset)
	_, err := f.WriteAt(buf, 16) // magic(4)+version(4)+entryCount(8) precede indexOffset
	return err
}

func writeHeader(w *bufio.Writer, entryCount, indexOffset, footerOffset uint64) error {
	if err := binary.Write(w, binary.BigEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, formatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, entryCount); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, indexOffset); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, footerOffset)
}

func writeEntry(w *bufio.Writer, e Entry) (int, error) {
	n := 0
	if err := writeLenPrefixed(w, e.Key); err != nil {
		return 0, err
	}
	n += 4 + len(e.Key)
	if err := w.WriteByte(byte(e.Kind)); err != nil {
		return 0, err
	}
	n++
	if err := writeLenPrefixed(w, e.Value); err != nil {
		return 0, err
	}
	n += 4 + len(e.Value)
	if err := binary.Write(w, binary.BigEndian, e.LSN); err != nil {
		return 0, err
	}
	n += 8
	return n, nil
}

func writeIndexEntry(w *bufio.Writer, ie indexEntry) (int, error) {
	if err := writeLenPrefixed(w, ie.key); err != nil {
		return 0, err
	}
	if err := binary.Write(w, binary.BigEndian, ie.offset); err != nil {
		return 0, err
	}
	return 4 + len(ie.key) + 8, nil
}

func writeLenPrefixed(w *bufio.Writer, field []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(field))); err != nil {
		return err
	}
	_, err := w.Write(field)
	return err
}

func writeFooter(w *bufio.Writer, bloomSize, bloomHashCount int, bits []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(bloomSize)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(bloomHashCount)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(bits))); err != nil {
		return err
	}
	if _, err := w.Write(bits); err != nil {
		return err
	}
	checksum := crc32.ChecksumIEEE(bits)
	return binary.Write(w, binary.BigEndian, checksum)
}
