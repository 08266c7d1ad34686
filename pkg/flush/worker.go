package flush

import (
	"context"
	"log"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkFunc drains up to limit pending tasks (grouped by partition) and
// writes them out. Failures are retried on the next wake-up since the
// sealed memtables and their journal records are left in place until
// WorkFunc itself dequeues them.
type WorkFunc func(collected map[string][]Task) error

// Worker runs the flush loop: wait for a signal, collect up to
// CollectLimit tasks, hand them to WorkFunc. One or more Workers may
// share a Manager and its semaphore.
type Worker struct {
	manager      *Manager
	work         WorkFunc
	collectLimit int

	sem *semaphore.Weighted

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a flush worker over manager that collects up to
// collectLimit tasks per wake-up.
func NewWorker(manager *Manager, collectLimit int, work WorkFunc) *Worker {
	w := &Worker{
		manager:      manager,
		work:         work,
		collectLimit: collectLimit,
		sem:          semaphore.NewWeighted(math.MaxInt64),
		stopCh:       make(chan struct{}),
	}
	_ = w.sem.Acquire(context.Background(), math.MaxInt64)
	return w
}

// Start launches the worker's background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Signal wakes the worker. Called once per memtable rotation.
func (w *Worker) Signal() {
	w.sem.Release(1)
}

// Stop signals the worker to exit and waits for its current iteration
// to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.sem.Release(1)
	})
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	ctx := context.Background()

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}

		select {
		case <-w.stopCh:
			return
		default:
		}

		collected := w.manager.Collect(w.collectLimit)
		if len(collected) == 0 {
			continue
		}
		if err := w.work(collected); err != nil {
			log.Printf("flush worker: %v", err)
		}
	}
}
