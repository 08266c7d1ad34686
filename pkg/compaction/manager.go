package compaction

import (
	"context"
	"log"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkFunc runs the opaque compaction check-and-merge for one
// partition: consult the strategy against that partition's current
// level layout, and if a plan comes back, execute it. What "execute"
// means belongs to the caller.
type WorkFunc func(partition string) error

// Manager runs a single compaction worker per keyspace that drains a
// deduplicated queue of partition names. A partition already queued is
// not queued again until its pending notification has been picked up,
// so a partition under heavy write load cannot flood the queue.
type Manager struct {
	mu      sync.Mutex
	pending map[string]struct{}
	queue   []string

	sem  *semaphore.Weighted
	work WorkFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a compaction manager; call Start to launch its
// worker goroutine.
func NewManager(work WorkFunc) *Manager {
	m := &Manager{
		pending: make(map[string]struct{}),
		sem:     semaphore.NewWeighted(math.MaxInt64),
		work:    work,
		stopCh:  make(chan struct{}),
	}
	// semaphore.Weighted starts with its full weight available; drain
	// it to zero so the first Acquire in the worker loop blocks until
	// a Notify releases a token, matching counting-semaphore semantics.
	_ = m.sem.Acquire(context.Background(), math.MaxInt64)
	return m
}

// Start launches the single compaction worker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Notify wakes the worker for partition. Safe to call from any
// goroutine; redundant notifications for an already-pending partition
// are coalesced.
func (m *Manager) Notify(partition string) {
	m.mu.Lock()
	_, already := m.pending[partition]
	if !already {
		m.pending[partition] = struct{}{}
		m.queue = append(m.queue, partition)
	}
	m.mu.Unlock()

	if !already {
		m.sem.Release(1)
	}
}

// Stop signals the worker to exit and waits for it to finish any
// in-progress work.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.sem.Release(1) // wake the worker so it observes the stop signal
	})
	m.wg.Wait()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ctx := context.Background()

	for {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return
		}

		select {
		case <-m.stopCh:
			return
		default:
		}

		partition, ok := m.dequeue()
		if !ok {
			continue
		}
		if err := m.work(partition); err != nil {
			log.Printf("compaction worker: partition %s: %v", partition, err)
		}
	}
}

func (m *Manager) dequeue() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", false
	}
	partition := m.queue[0]
	m.queue = m.queue[1:]
	delete(m.pending, partition)
	return partition, true
}
