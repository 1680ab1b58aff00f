package glyph

import "sync"

// Queue collects callbacks posted by background jobs and runs them on the
// goroutine that calls Drain, normally the render loop once per frame.
type Queue struct {
	mu  sync.Mutex
	fns []func()
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Post appends fn. It never blocks on Drain.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Drain runs every posted callback in order and returns how many ran.
// Callbacks posted while draining run on the next call.
func (q *Queue) Drain() int {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Len returns the number of callbacks waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}
