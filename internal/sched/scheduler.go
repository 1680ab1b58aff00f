// Package sched runs background cache work on a small pool of workers.
//
// A Task is registered once with a priority and a due time. Workers pick
// the highest-priority due task first, breaking ties by the earliest due
// time, and never run a task concurrently with itself. A task keeps its
// slot by rescheduling itself during Run; a task that does not is treated
// as finished and dropped, which is how one-shot jobs are expressed.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gogpu/texcache/internal/clock"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("sched: scheduler closed")

// Task is a unit of background work.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc adapts a function to Task. Two TaskFunc values are distinct
// tasks only if they are distinct pointers, so wrap it with &.
type TaskFunc func(ctx context.Context)

// Run calls f(ctx).
func (f *TaskFunc) Run(ctx context.Context) { (*f)(ctx) }

// Priority orders due tasks. Higher runs first.
type Priority int8

const (
	Low Priority = iota - 1
	Normal
	High
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	}
	return fmt.Sprintf("Priority(%d)", int8(p))
}

type entry struct {
	task Task
	prio Priority
	due  time.Time

	running bool
	removed bool
	done    chan struct{}

	// Requests that arrive while the task runs. urgent only moves
	// earlier; pending is a plain overwrite. After the run the earlier of
	// the two wins.
	urgent  time.Time
	pending time.Time
}

// Scheduler is a pool of workers that run Tasks when they become due.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	clock   clock.Clock
	logger  *slog.Logger
	entries map[Task]*entry
	closed  bool

	timer   *clock.Timer
	timerAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	workers int
	clock   clock.Clock
	logger  *slog.Logger
}

// WithWorkers sets the number of worker goroutines. Values below one are
// ignored.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithClock replaces the wall clock, typically with clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets a logger for this scheduler instead of the package one.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New starts a scheduler. Call Close to stop its workers.
func New(opts ...Option) *Scheduler {
	o := options{
		workers: max(2, runtime.GOMAXPROCS(0)/2),
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:   o.clock,
		logger:  o.logger,
		entries: make(map[Task]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(o.workers)
	for range o.workers {
		go s.worker()
	}
	return s
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slogger()
}

// Now returns the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Add registers t to run at or after at. If t is already registered this
// updates its priority and moves its due time earlier, never later.
func (s *Scheduler) Add(t Task, prio Priority, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e, ok := s.entries[t]; ok {
		e.prio = prio
		s.rescheduleLocked(e, at, false)
		return nil
	}
	s.entries[t] = &entry{task: t, prio: prio, due: at}
	s.cond.Broadcast()
	return nil
}

// Reschedule changes when t runs next. Without allowLater the due time
// only ever moves earlier. Calls made while t is running are remembered
// and applied when the run ends. It reports whether t is registered.
func (s *Scheduler) Reschedule(t Task, at time.Time, allowLater bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[t]
	if !ok || e.removed {
		return false
	}
	s.rescheduleLocked(e, at, allowLater)
	return true
}

func (s *Scheduler) rescheduleLocked(e *entry, at time.Time, allowLater bool) {
	if e.running {
		if allowLater {
			e.pending = at
		} else if e.urgent.IsZero() || at.Before(e.urgent) {
			e.urgent = at
		}
		return
	}
	if allowLater || at.Before(e.due) {
		e.due = at
		s.cond.Broadcast()
	}
}

// SetPriority changes the priority of a registered task.
func (s *Scheduler) SetPriority(t Task, prio Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[t]; ok && e.prio != prio {
		e.prio = prio
		s.cond.Broadcast()
	}
}

// Remove unregisters t. If t is running, Remove waits for the run to
// finish. It must not be called from t's own Run.
func (s *Scheduler) Remove(t Task) {
	s.mu.Lock()
	e, ok := s.entries[t]
	if !ok {
		s.mu.Unlock()
		return
	}
	if !e.running {
		delete(s.entries, t)
		s.mu.Unlock()
		return
	}
	e.removed = true
	done := e.done
	s.mu.Unlock()
	<-done
}

// Len returns the number of registered tasks, running ones included.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the workers after their current runs and drops all tasks.
// The context passed to running tasks is canceled.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	clear(s.entries)
	s.mu.Unlock()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		e := s.next()
		if e == nil {
			return
		}
		s.run(e)
	}
}

// next blocks until a task is due or the scheduler closes.
func (s *Scheduler) next() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return nil
		}
		now := s.clock.Now()
		var best, soonest *entry
		for _, e := range s.entries {
			if e.running {
				continue
			}
			if !e.due.After(now) {
				if best == nil || e.prio > best.prio || (e.prio == best.prio && e.due.Before(best.due)) {
					best = e
				}
			} else if soonest == nil || e.due.Before(soonest.due) {
				soonest = e
			}
		}
		if best != nil {
			best.running = true
			best.done = make(chan struct{})
			best.urgent = time.Time{}
			best.pending = time.Time{}
			return best
		}
		if soonest != nil {
			s.armLocked(soonest.due, now)
		}
		s.cond.Wait()
	}
}

// armLocked makes sure a single timer wakes the workers at or before at.
func (s *Scheduler) armLocked(at, now time.Time) {
	if s.timer != nil && !s.timerAt.After(at) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerAt = at
	s.timer = s.clock.AfterFunc(at.Sub(now), func() {
		s.mu.Lock()
		if s.timerAt.Equal(at) {
			s.timer = nil
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	})
}

func (s *Scheduler) run(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("sched: task panicked", "task", fmt.Sprintf("%T", e.task), "panic", r)
		}
		s.finish(e)
	}()
	e.task.Run(s.ctx)
}

func (s *Scheduler) finish(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.running = false
	close(e.done)

	switch {
	case e.removed || s.closed:
		delete(s.entries, e.task)
		return
	case e.urgent.IsZero() && e.pending.IsZero():
		delete(s.entries, e.task)
		s.log().Debug("sched: task finished", "task", fmt.Sprintf("%T", e.task))
		return
	case e.urgent.IsZero():
		e.due = e.pending
	case e.pending.IsZero() || e.urgent.Before(e.pending):
		e.due = e.urgent
	default:
		e.due = e.pending
	}
	s.cond.Broadcast()
}
