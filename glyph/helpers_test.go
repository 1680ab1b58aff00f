package glyph

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/font/gofont/goregular"

	"github.com/gogpu/texcache/artifact"
	"github.com/gogpu/texcache/internal/sched"
)

// testScheduler records tasks and runs them only when asked. Like the real
// scheduler, a task that does not re-add itself during Run is dropped.
type testScheduler struct {
	mu    sync.Mutex
	tasks map[sched.Task]struct{}
	adds  int
}

func newTestScheduler() *testScheduler {
	return &testScheduler{tasks: make(map[sched.Task]struct{})}
}

func (s *testScheduler) Add(t sched.Task, _ sched.Priority, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t] = struct{}{}
	s.adds++
	return nil
}

func (s *testScheduler) Remove(t sched.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t)
}

func (s *testScheduler) Now() time.Time { return time.Unix(0, 0) }

func (s *testScheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *testScheduler) addCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds
}

// runAll runs registered tasks until none is left.
func (s *testScheduler) runAll(t *testing.T) {
	t.Helper()
	for range 100 {
		s.mu.Lock()
		var next sched.Task
		for task := range s.tasks {
			next = task
			break
		}
		delete(s.tasks, next)
		s.mu.Unlock()
		if next == nil {
			return
		}
		next.Run(context.Background())
	}
	t.Fatal("tasks keep rescheduling")
}

type fixture struct {
	sched *testScheduler
	store *artifact.Store
	atlas *Atlas
	cache *Cache
}

func newFixture(t *testing.T, atlasCfg AtlasConfig, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sched: newTestScheduler(),
		store: artifact.NewStore(t.TempDir()),
	}
	var err error
	if f.atlas, err = NewAtlas(atlasCfg, nil); err != nil {
		t.Fatal(err)
	}
	if f.cache, err = NewCache(f.store, f.sched, f.atlas, opts...); err != nil {
		t.Fatal(err)
	}
	return f
}

func goRegular(t *testing.T) *SFNTFace {
	t.Helper()
	face, err := NewSFNTFace(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	return face
}

// ready requests gid until it leaves the pending state, running the
// scheduler in between.
func ready(t *testing.T, f *fixture, fc *FontCache, gid GlyphIndex) *Glyph {
	t.Helper()
	for range 4 {
		if g := fc.Glyph(gid); g != nil {
			return g
		}
		f.sched.runAll(t)
	}
	_, st := fc.Lookup(gid)
	t.Fatalf("glyph %d never became ready, status %v", gid, st)
	return nil
}
