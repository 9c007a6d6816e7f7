package worker

import (
	"sync"
	"sync/atomic"

	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

// WorkerHandler handles one job on worker workerIndex.
type WorkerHandler[T any] func(workerIndex int, job T)

// WorkerManager runs a fixed number of goroutines over a buffered job
// channel. Stop lets the workers finish what is already buffered.
type WorkerManager[T any] struct {
	name           string
	jobs           chan T
	numberOfWorker int
	do             WorkerHandler[T]

	quit      chan struct{}
	quitOnce  sync.Once
	startOnce sync.Once
	waiter    sync.WaitGroup
	panics    atomic.Int64
}

// NewWorkerManager builds a stopped manager; name only shows up in logs.
func NewWorkerManager[T any](name string, bufferSize, numberOfWorkers int, do WorkerHandler[T]) *WorkerManager[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &WorkerManager[T]{
		name:           name,
		jobs:           make(chan T, bufferSize),
		numberOfWorker: numberOfWorkers,
		do:             do,
		quit:           make(chan struct{}),
	}
}

// Start launches the workers and returns. Later calls do nothing.
func (w *WorkerManager[T]) Start() {
	w.startOnce.Do(func() {
		w.waiter.Add(w.numberOfWorker)
		for i := 0; i < w.numberOfWorker; i++ {
			go w.run(i)
		}
	})
}

func (w *WorkerManager[T]) run(index int) {
	defer w.waiter.Done()
	for {
		select {
		case job := <-w.jobs:
			w.handle(index, job)
		case <-w.quit:
			for {
				select {
				case job := <-w.jobs:
					w.handle(index, job)
				default:
					return
				}
			}
		}
	}
}

// handle keeps a panicking job from taking its worker down.
func (w *WorkerManager[T]) handle(index int, job T) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			logger.Error("worker job panicked", "pool", w.name, "worker", index, "panic", r)
		}
	}()
	w.do(index, job)
}

// Enqueue waits for buffer space. It reports false once Stop was called.
func (w *WorkerManager[T]) Enqueue(job T) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.jobs <- job:
		return true
	case <-w.quit:
		return false
	}
}

// TryEnqueue never blocks. It reports false when the buffer is full or the
// manager is stopping.
func (w *WorkerManager[T]) TryEnqueue(job T) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Pending is the number of buffered jobs no worker picked up yet.
func (w *WorkerManager[T]) Pending() int {
	return len(w.jobs)
}

// Panics counts jobs whose handler panicked.
func (w *WorkerManager[T]) Panics() int64 {
	return w.panics.Load()
}

// Stop refuses new jobs, waits for the buffered ones and returns when every
// worker is gone. Safe to call more than once.
func (w *WorkerManager[T]) Stop() {
	w.quitOnce.Do(func() {
		logger.Info("worker manager is shutting down", "pool", w.name, "workers", w.numberOfWorker, "pending", len(w.jobs))
		close(w.quit)
	})
	w.waiter.Wait()
}
