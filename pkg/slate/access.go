package slate

import (
	"context"
	"slices"
	"sync"
)

// task is one unit of work waiting for access. Sync tasks carry a ready
// channel the caller blocks on; async tasks carry run and execute on their
// own goroutine.
type task struct {
	barrier bool
	ready   chan struct{}
	run     func()
}

// accessQueue admits work in FIFO order. Reads run concurrently until a
// barrier reaches the head; the barrier starts once running reads drained
// and nothing behind it starts before it finishes.
type accessQueue struct {
	mu       sync.Mutex
	pending  []*task
	readers  int
	writing  bool
	active   bool
	maxReads int
}

// activate starts admitting work. Work submitted earlier waits until then.
func (q *accessQueue) activate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = true
	q.dispatchLocked()
}

// acquire blocks until the caller is admitted. A cancelled ctx withdraws the
// request unless it was admitted in the meantime.
func (q *accessQueue) acquire(ctx context.Context, barrier bool) error {
	t := &task{barrier: barrier, ready: make(chan struct{})}
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.dispatchLocked()
	q.mu.Unlock()

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := slices.Index(q.pending, t); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
		// a withdrawn barrier may have held back reads behind it
		q.dispatchLocked()
		return ctx.Err()
	}
	return nil
}

// submit queues run for asynchronous execution.
func (q *accessQueue) submit(barrier bool, run func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &task{barrier: barrier, run: run})
	q.dispatchLocked()
}

// release ends an admitted read or barrier.
func (q *accessQueue) release(barrier bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if barrier {
		q.writing = false
	} else {
		q.readers--
	}
	q.dispatchLocked()
}

func (q *accessQueue) dispatchLocked() {
	for q.active && !q.writing && len(q.pending) > 0 {
		t := q.pending[0]
		if t.barrier {
			if q.readers > 0 {
				return
			}
			q.writing = true
		} else {
			if q.maxReads > 0 && q.readers >= q.maxReads {
				return
			}
			q.readers++
		}
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.start(t)
	}
}

func (q *accessQueue) start(t *task) {
	if t.ready != nil {
		close(t.ready)
		return
	}
	go func() {
		defer q.release(t.barrier)
		t.run()
	}()
}

// idle reports whether nothing is running or waiting.
func (q *accessQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readers == 0 && !q.writing && len(q.pending) == 0
}
