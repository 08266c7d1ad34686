package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
)

const shardFileName = "shard.log"
const shardVersion byte = 1

// shard is one append-only log file with its own exclusive writer lock
// one of N parallel shards in a journal directory, each an
// append-only file with its own exclusive writer lock.
type shard struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	writer      *bufio.Writer
	compression Compression
	fsync       FsyncPolicy
}

func openShard(dir string, index int, compression Compression, fsync FsyncPolicy) (*shard, error) {
	shardDir := filepath.Join(dir, fmt.Sprintf("shard-%02d", index))
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(shardDir, shardFileName)

	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	if isNew {
		if _, err := f.Write([]byte{shardVersion}); err != nil {
			f.Close()
			return nil, err
		}
	}

	s := &shard{
		path:        path,
		file:        f,
		writer:      bufio.NewWriter(f),
		compression: compression,
		fsync:       fsync,
	}
	return s, nil
}

// append writes one record under the shard lock and applies the
// configured durability barrier.
func (s *shard) append(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

// appendBatch writes many records with a single flush/fsync, used for
// explicit user batches via Journal.AppendBatch.
func (s *shard) appendBatch(recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		if err := s.writeFramed(rec); err != nil {
			return err
		}
	}
	return s.syncLocked()
}

func (s *shard) appendLocked(rec *Record) error {
	if err := s.writeFramed(rec); err != nil {
		return err
	}
	return s.syncLocked()
}

func (s *shard) syncLocked() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush shard %s: %w", s.path, err)
	}
	switch s.fsync {
	case FsyncPerWrite:
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync shard %s: %w", s.path, err)
		}
	case FsyncInterval, FsyncNone:
		// Durability barrier deferred to an explicit Flush().
	}
	return nil
}

// writeFramed encodes one record: partition key, user key, value kind,
// value, LSN, then a CRC32 checksum over every preceding field.
func (s *shard) writeFramed(rec *Record) error {
	value := rec.Value
	if s.compression == Snappy && len(value) > 0 {
		value = snappy.Encode(nil, value)
	}

	buf := make([]byte, 0, 4+len(rec.Partition)+4+len(rec.Key)+1+4+len(value)+8)
	buf = appendLenPrefixed(buf, []byte(rec.Partition))
	buf = appendLenPrefixed(buf, rec.Key)
	buf = append(buf, byte(rec.Kind))
	buf = appendLenPrefixed(buf, value)
	buf = binary.BigEndian.AppendUint64(buf, rec.LSN)

	checksum := crc32.ChecksumIEEE(buf)

	if _, err := s.writer.Write(buf); err != nil {
		return err
	}
	return binary.Write(s.writer, binary.BigEndian, checksum)
}

func appendLenPrefixed(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// flush forces buffered writes to durable storage.
func (s *shard) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *shard) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *shard) diskSpaceUsed() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// readAll reads every well-formed record from the shard file. A
// truncated or CRC-failing trailing record is treated as crash torn:
// it is dropped and the file is truncated at that point so future
// appends start from a clean boundary.
func (s *shard) readAll() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	versionByte, err := r.ReadByte()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = versionByte

	var records []*Record
	offset := int64(1)

	for {
		rec, n, err := readFramed(r, s.compression)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Torn tail: truncate the file at the last good offset and
			// stop. This is not fatal for keyspace open.
			if truncErr := s.file.Truncate(offset); truncErr != nil {
				return records, truncErr
			}
			if _, seekErr := s.file.Seek(0, io.SeekEnd); seekErr != nil {
				return records, seekErr
			}
			break
		}
		offset += int64(n)
		records = append(records, rec)
	}

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return records, err
	}
	return records, nil
}

// readFramed reads one record plus its trailing checksum, returning the
// number of bytes consumed (framing + checksum) so the caller can track
// the last known-good offset for truncation.
func readFramed(r *bufio.Reader, compression Compression) (*Record, int, error) {
	start := make([]byte, 0, 64)

	partition, n1, err := readLenPrefixed(r)
	if err != nil {
		return nil, 0, err
	}
	start = appendLenPrefixed(start, partition)

	key, n2, err := readLenPrefixed(r)
	if err != nil {
		return nil, 0, err
	}
	start = appendLenPrefixed(start, key)

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	start = append(start, kindByte)

	value, n3, err := readLenPrefixed(r)
	if err != nil {
		return nil, 0, err
	}
	start = appendLenPrefixed(start, value)

	var lsn uint64
	if err := binary.Read(r, binary.BigEndian, &lsn); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	start = binary.BigEndian.AppendUint64(start, lsn)

	var checksum uint32
	if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}

	if crc32.ChecksumIEEE(start) != checksum {
		return nil, 0, fmt.Errorf("journal: checksum mismatch")
	}

	if compression == Snappy && len(value) > 0 {
		decoded, err := snappy.Decode(nil, value)
		if err != nil {
			return nil, 0, fmt.Errorf("journal: corrupt compressed value: %w", err)
		}
		value = decoded
	}

	total := 4 + n1 + 4 + n2 + 1 + 4 + n3 + 8 + 4
	return &Record{
		Partition: string(partition),
		Key:       key,
		Value:     value,
		Kind:      ValueKind(kindByte),
		LSN:       lsn,
	}, total, nil
}

func readLenPrefixed(r *bufio.Reader) ([]byte, int, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return buf, int(length), nil
}
