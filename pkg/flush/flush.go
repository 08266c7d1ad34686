// Package flush tracks which sealed memtables are waiting to become
// on-disk segments and picks partitions for proactive drain under
// journal backpressure. The actual segment write is opaque to this
// package (pkg/segment and the caller's write-out loop own that); this
// package owns only the FIFO-per-partition queueing and the
// least-recently-rotated ordering used for proactive draining.
package flush

import (
	"sync"

	"github.com/dd0wney/keelkv/pkg/memtable"
)

// Task is one sealed memtable waiting to be written out as a segment.
type Task struct {
	SealedID  string
	Partition string
	Memtable  *memtable.Memtable
}

// Manager holds per-partition FIFO queues of pending tasks plus an LRU
// ordering over partitions by time since last rotation.
type Manager struct {
	mu     sync.Mutex
	queues map[string][]Task
	lru    []string // index 0 is least recently rotated
}

// NewManager creates an empty flush manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string][]Task)}
}

// Enqueue appends task to partition's queue and moves partition to the
// tail of the LRU list (it was just rotated, so it is now the most
// recently rotated partition).
func (m *Manager) Enqueue(partition string, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[partition] = append(m.queues[partition], task)
	m.touchLocked(partition)
}

// Touch registers partition in the LRU list without enqueueing a
// task, if it is not already present. Called once when a partition is
// first opened, so a partition that has never been rotated is still a
// candidate for proactive drain rather than being invisible to
// LeastRecentlyUsed until its first real rotation.
func (m *Manager) Touch(partition string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.lru {
		if p == partition {
			return
		}
	}
	m.lru = append(m.lru, partition)
}

// Collect walks partition queues in LRU order and gathers up to limit
// tasks total, grouped by partition, without removing them. Multiple
// tasks may be collected for one partition; the caller is expected to
// write them out and then Dequeue the same count once persisted, since
// a later sealed memtable for a partition must never be written out
// without an earlier one (LSN ordering across flushes).
func (m *Manager) Collect(limit int) map[string][]Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]Task)
	collected := 0
	for _, partition := range m.lru {
		if collected >= limit {
			break
		}
		tasks := m.queues[partition]
		if len(tasks) == 0 {
			continue
		}
		take := len(tasks)
		if collected+take > limit {
			take = limit - collected
		}
		out[partition] = append([]Task(nil), tasks[:take]...)
		collected += take
	}
	return out
}

// Dequeue removes the first count tasks from partition's queue and
// refreshes its LRU position (moved to the tail: it was just drained,
// so it is now the most recently serviced partition).
func (m *Manager) Dequeue(partition string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := m.queues[partition]
	if count > len(tasks) {
		count = len(tasks)
	}
	remaining := append([]Task(nil), tasks[count:]...)
	if len(remaining) == 0 {
		delete(m.queues, partition)
	} else {
		m.queues[partition] = remaining
	}
	m.touchLocked(partition)
}

// RemovePartition erases a partition's queue and LRU entry entirely,
// used by delete_partition.
func (m *Manager) RemovePartition(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.queues, name)
	for i, p := range m.lru {
		if p == name {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			break
		}
	}
}

// LeastRecentlyUsed pops the head of the LRU list and re-appends it at
// the tail, returning the partition that was least recently rotated.
// Round-robins over idle partitions when one must be chosen for
// proactive drain under journal backpressure.
func (m *Manager) LeastRecentlyUsed() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.lru) == 0 {
		return "", false
	}
	partition := m.lru[0]
	m.lru = append(m.lru[1:], partition)
	return partition, true
}

// QueueDepth returns the number of pending tasks across every
// partition, used for the flush queue depth metric.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, tasks := range m.queues {
		total += len(tasks)
	}
	return total
}

func (m *Manager) touchLocked(partition string) {
	for i, p := range m.lru {
		if p == partition {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			break
		}
	}
	m.lru = append(m.lru, partition)
}
