package cache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func TestShardedGetSet(t *testing.T) {
	c := NewSharded[string, int](8, StringHasher)
	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache returned ok")
	}
	c.Set("a", 1)
	c.Set("a", 2)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestShardedLoadOrStore(t *testing.T) {
	c := NewSharded[uint16, *int](0, IntHasher[uint16])
	first := new(int)
	got, loaded := c.LoadOrStore(7, first)
	if loaded || got != first {
		t.Fatalf("first LoadOrStore = %p, %v", got, loaded)
	}
	got, loaded = c.LoadOrStore(7, new(int))
	if !loaded || got != first {
		t.Errorf("second LoadOrStore = %p, %v, want the first value", got, loaded)
	}
}

func TestShardedLoadOrStoreConcurrent(t *testing.T) {
	c := NewSharded[int, *int](0, IntHasher[int])
	var stored atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Go(func() {
			for k := range 32 {
				if _, loaded := c.LoadOrStore(k, new(int)); !loaded {
					stored.Add(1)
				}
			}
		})
	}
	wg.Wait()
	if got := stored.Load(); got != 32 {
		t.Errorf("stored %d values, want exactly 32", got)
	}
}

func TestShardedGetOrCreate(t *testing.T) {
	c := NewSharded[string, int](0, StringHasher)
	calls := 0
	create := func() int { calls++; return 42 }
	for range 3 {
		if v := c.GetOrCreate("k", create); v != 42 {
			t.Errorf("GetOrCreate = %d", v)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func TestShardedEviction(t *testing.T) {
	// Single-key shards make the eviction order observable.
	c := NewSharded[string, int](2, func(string) uint64 { return 0 })
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestShardedDeleteRangeClear(t *testing.T) {
	c := NewSharded[string, int](0, StringHasher)
	for i := range 20 {
		c.Set(strconv.Itoa(i), i)
	}
	if !c.Delete("3") || c.Delete("3") {
		t.Error("Delete should succeed once")
	}
	sum := 0
	c.Range(func(_ string, v int) bool { sum += v; return true })
	if want := 190 - 3; sum != want {
		t.Errorf("Range sum = %d, want %d", sum, want)
	}
	seen := 0
	c.Range(func(string, int) bool { seen++; return false })
	if seen != 1 {
		t.Errorf("Range after false visited %d entries", seen)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestShardedStats(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)
	c.Set("x", 1)
	c.Get("x")
	c.Get("y")
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.HitRate != 0.5 {
		t.Errorf("Stats = %+v", s)
	}
	if s.TotalCapacity != 4*DefaultShardCount {
		t.Errorf("TotalCapacity = %d", s.TotalCapacity)
	}
}

func TestIntHasherSpreads(t *testing.T) {
	var used [DefaultShardCount]bool
	for k := range uint16(1024) {
		used[IntHasher(k)&shardMask] = true
	}
	for i, u := range used {
		if !u {
			t.Errorf("shard %d unused by 1024 consecutive keys", i)
		}
	}
}

func TestLRUList(t *testing.T) {
	var l lruList[int]
	a := l.PushFront(1)
	l.PushFront(2)
	l.PushFront(3)
	l.MoveToFront(a)
	if k, _ := l.RemoveOldest(); k != 2 {
		t.Errorf("RemoveOldest = %d, want 2", k)
	}
	l.Remove(a)
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
	l.Clear()
	if _, ok := l.RemoveOldest(); ok {
		t.Error("RemoveOldest on empty list returned ok")
	}
}
