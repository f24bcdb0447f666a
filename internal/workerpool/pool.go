// Package workerpool runs the network and decode sub-tasks of the tile
// client on a fixed set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("workerpool: closed")

// WorkerPool is a fixed set of goroutines fed by a bounded queue.
//
// Tasks must not wait on other tasks of the same pool; coordinators that
// wait for results run on their own goroutine.
type WorkerPool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup

	// mu keeps Close from closing tasks while a Submit sends on it.
	mu     sync.RWMutex
	closed bool
}

// New starts size workers; size <= 0 uses GOMAXPROCS. The queue holds two
// tasks per worker.
func New(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}

	wp := &WorkerPool{
		size:  size,
		tasks: make(chan func(), 2*size),
	}
	wp.wg.Add(size)
	for range size {
		go wp.run()
	}
	return wp
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return wp.size }

func (wp *WorkerPool) run() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues task, waiting while the queue is full. It fails with
// ErrClosed once Close was called and with ctx.Err() when ctx is done
// before the task is queued.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrClosed
	}
	select {
	case wp.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and returns after the queued ones ran.
// Later calls return immediately.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.tasks)
	wp.mu.Unlock()

	wp.wg.Wait()
}
