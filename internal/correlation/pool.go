package correlation

import (
	"sync"
)

// workerPool runs submitted jobs on a fixed set of goroutines.
type workerPool struct {
	workers  int
	jobQueue chan func()
	quit     chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func newWorkerPool(workers, queueSize int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	return &workerPool{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
		quit:     make(chan struct{}),
	}
}

func (wp *workerPool) start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// stop drains queued jobs and waits for the workers to exit.
func (wp *workerPool) stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	close(wp.quit)
	wp.wg.Wait()
}

// submit queues job, or runs it on the caller's goroutine once the pool has
// been stopped.
func (wp *workerPool) submit(job func()) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		job()
		return
	}
	wp.jobQueue <- job
}

func (wp *workerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobQueue:
			job()
		case <-wp.quit:
			for {
				select {
				case job := <-wp.jobQueue:
					job()
				default:
					return
				}
			}
		}
	}
}
