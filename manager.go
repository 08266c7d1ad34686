package keelkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/keelkv/pkg/journal"
)

const activeJournalDirName = "active"
const journalMetaFileName = "meta.yaml"

// journalMeta is the on-disk record of which partitions contributed to
// a sealed journal and the maximum LSN each of them reached in it.
// Stored as YAML next to the sealed journal's shards.
type journalMeta struct {
	SealedID string           `yaml:"sealed_id"`
	SealedAt time.Time        `yaml:"sealed_at"`
	Seqno    map[string]uint64 `yaml:"seqno"`
}

// sealedJournalEntry is one in-memory bookkeeping record for a sealed
// journal directory.
type sealedJournalEntry struct {
	id    string
	dir   string
	seqno map[string]uint64
}

// journalManager tracks which sealed journals still matter and deletes
// them when safe. It owns the active Journal and the
// ordered sequence of sealed-journal entries.
type journalManager struct {
	mu     sync.RWMutex
	root   string // <keyspace>/journals
	opts   journal.Options
	active *journal.Journal
	sealed []*sealedJournalEntry
}

func newJournalManager(keyspaceDir string, opts journal.Options) (*journalManager, error) {
	root := filepath.Join(keyspaceDir, "journals")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapIO("journal manager init", err)
	}

	jm := &journalManager{root: root, opts: opts}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, wrapIO("journal manager scan", err)
	}
	var sealedDirs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == activeJournalDirName {
			continue
		}
		sealedDirs = append(sealedDirs, e.Name())
	}
	sort.Strings(sealedDirs)

	for _, name := range sealedDirs {
		entry, err := loadSealedEntry(root, name, opts)
		if err != nil {
			return nil, err
		}
		jm.sealed = append(jm.sealed, entry)
	}

	active, err := journal.Open(filepath.Join(root, activeJournalDirName), opts)
	if err != nil {
		return nil, wrapIO("open active journal", err)
	}
	jm.active = active

	return jm, nil
}

// loadSealedEntry reads a sealed journal's metadata file, self-healing
// by replaying the journal if the metadata is missing or unreadable
// (possible when a crash lands between the directory rename and the
// metadata write during rotate).
func loadSealedEntry(root, name string, opts journal.Options) (*sealedJournalEntry, error) {
	dir := filepath.Join(root, name)
	metaPath := filepath.Join(dir, journalMetaFileName)

	if data, err := os.ReadFile(metaPath); err == nil {
		var meta journalMeta
		if err := yaml.Unmarshal(data, &meta); err == nil && meta.Seqno != nil {
			return &sealedJournalEntry{id: name, dir: dir, seqno: meta.Seqno}, nil
		}
	}

	seqno, err := deriveSeqnoFromJournal(dir, opts)
	if err != nil {
		return nil, err
	}
	if err := writeJournalMeta(dir, name, seqno); err != nil {
		return nil, err
	}
	return &sealedJournalEntry{id: name, dir: dir, seqno: seqno}, nil
}

func deriveSeqnoFromJournal(dir string, opts journal.Options) (map[string]uint64, error) {
	j, err := journal.Open(dir, opts)
	if err != nil {
		return nil, wrapIO("reopen sealed journal for recovery", err)
	}
	defer j.Close()

	recs, err := j.Iter()
	if err != nil {
		return nil, wrapStorage("replay sealed journal for recovery", err)
	}

	seqno := make(map[string]uint64)
	for _, rec := range recs {
		if rec.LSN > seqno[rec.Partition] {
			seqno[rec.Partition] = rec.LSN
		}
	}
	return seqno, nil
}

func writeJournalMeta(dir, id string, seqno map[string]uint64) error {
	meta := journalMeta{SealedID: id, SealedAt: time.Now(), Seqno: seqno}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return wrapStorage("marshal journal metadata", err)
	}
	return wrapIO("write journal metadata", os.WriteFile(filepath.Join(dir, journalMetaFileName), data, 0o644))
}

// Active returns the current active journal.
func (jm *journalManager) Active() *journal.Journal {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.active
}

// SealedDirs returns the on-disk directories of every sealed journal
// still tracked, in ascending (wall-clock) id order, for recovery.
func (jm *journalManager) SealedDirs() []string {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	dirs := make([]string, len(jm.sealed))
	for i, e := range jm.sealed {
		dirs[i] = e.dir
	}
	return dirs
}

// Rotate seals the active journal and opens a fresh one in its place.
// The caller must already hold the journal full lock; Rotate does not acquire or
// release it. seqnoSnapshot maps every partition with a non-empty
// active memtable to its current max LSN at rotation time.
func (jm *journalManager) Rotate(seqnoSnapshot map[string]uint64) (string, *journal.Journal, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if err := jm.active.Close(); err != nil {
		return "", nil, wrapIO("close active journal for rotation", err)
	}

	id := newSealedID(time.Now())
	sealedDir := filepath.Join(jm.root, id)
	activeDir := filepath.Join(jm.root, activeJournalDirName)

	if err := os.Rename(activeDir, sealedDir); err != nil {
		return "", nil, wrapIO("seal active journal", err)
	}

	if err := writeJournalMeta(sealedDir, id, seqnoSnapshot); err != nil {
		return "", nil, err
	}

	newActive, err := journal.Open(activeDir, jm.opts)
	if err != nil {
		return "", nil, wrapIO("open new active journal", err)
	}

	entry := &sealedJournalEntry{id: id, dir: sealedDir, seqno: seqnoSnapshot}
	jm.sealed = append(jm.sealed, entry)
	jm.active = newActive

	return id, newActive, nil
}

// Compact is called after a flush completes, with the partition whose
// data was just persisted and the max LSN now durable on disk for it.
// Any sealed journal whose entries are now fully covered by durable
// segments is deleted.
func (jm *journalManager) Compact(partition string, persistedLSN uint64) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	remaining := jm.sealed[:0]
	for _, entry := range jm.sealed {
		if recorded, ok := entry.seqno[partition]; ok && recorded <= persistedLSN {
			delete(entry.seqno, partition)
		}
		if len(entry.seqno) == 0 {
			if err := os.RemoveAll(entry.dir); err != nil {
				return wrapIO(fmt.Sprintf("delete sealed journal %s", entry.id), err)
			}
			continue
		}
		remaining = append(remaining, entry)
	}
	jm.sealed = remaining
	return nil
}

// DiskSpaceUsed sums active + sealed journal directory sizes, used for
// backpressure decisions.
func (jm *journalManager) DiskSpaceUsed() (int64, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	total, err := jm.active.DiskSpaceUsed()
	if err != nil {
		return 0, wrapIO("measure active journal size", err)
	}
	for _, entry := range jm.sealed {
		n, err := dirSize(entry.dir)
		if err != nil {
			return 0, wrapIO("measure sealed journal size", err)
		}
		total += n
	}
	return total, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (jm *journalManager) Close() error {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.active.Close()
}
