package mipmap

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/texcache/artifact"
	"github.com/gogpu/texcache/internal/clock"
	teximage "github.com/gogpu/texcache/internal/image"
	"github.com/gogpu/texcache/internal/sched"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// manualScheduler queues tasks and runs them only when asked, on the
// test goroutine.
type manualScheduler struct {
	clk *clock.FakeClock

	mu    sync.Mutex
	tasks map[sched.Task]*manualEntry
	adds  int
}

type manualEntry struct {
	prio sched.Priority
	at   time.Time
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{clk: clock.Fake(epoch), tasks: make(map[sched.Task]*manualEntry)}
}

func (m *manualScheduler) Add(t sched.Task, prio sched.Priority, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tasks[t]; ok {
		e.prio = prio
		if at.Before(e.at) {
			e.at = at
		}
		return nil
	}
	m.tasks[t] = &manualEntry{prio: prio, at: at}
	m.adds++
	return nil
}

func (m *manualScheduler) Reschedule(t sched.Task, at time.Time, allowLater bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[t]
	if !ok {
		return false
	}
	if allowLater || at.Before(e.at) {
		e.at = at
	}
	return true
}

func (m *manualScheduler) SetPriority(t sched.Task, prio sched.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tasks[t]; ok {
		e.prio = prio
	}
}

func (m *manualScheduler) Remove(t sched.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, t)
}

func (m *manualScheduler) Now() time.Time { return m.clk.Now() }

func (m *manualScheduler) entry(t sched.Task) (manualEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[t]
	if !ok {
		return manualEntry{}, false
	}
	return *e, true
}

func (m *manualScheduler) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// runDue runs due tasks, highest priority first, until none are due. A
// task leaves the queue while it runs, as a one-shot would.
func (m *manualScheduler) runDue(t *testing.T) int {
	t.Helper()
	runs := 0
	for range 100 {
		now := m.Now()
		m.mu.Lock()
		var due []sched.Task
		for task, e := range m.tasks {
			if !e.at.After(now) {
				due = append(due, task)
			}
		}
		slices.SortFunc(due, func(a, b sched.Task) int {
			ea, eb := m.tasks[a], m.tasks[b]
			if ea.prio != eb.prio {
				return int(eb.prio) - int(ea.prio)
			}
			return ea.at.Compare(eb.at)
		})
		if len(due) == 0 {
			m.mu.Unlock()
			return runs
		}
		next := due[0]
		delete(m.tasks, next)
		m.mu.Unlock()

		next.Run(context.Background())
		runs++
	}
	t.Fatal("runDue: tasks keep becoming due")
	return runs
}

// writePNG writes an opaque w×h gradient.
func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

// writePNGHeader writes a PNG that holds only a signature and IHDR. It
// passes the header read and fails to decode.
func writePNGHeader(t *testing.T, path string, w, h int) {
	t.Helper()
	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(h))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr[:]...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

// writeArtifact stores a solid w×h raster artifact for level of src.
func writeArtifact(t *testing.T, store *artifact.Store, src string, level, w, h int, c color.NRGBA) string {
	t.Helper()
	key, err := store.Key(src)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := teximage.NewImageBuf(w, h, teximage.FormatRGBA8)
	if err != nil {
		t.Fatal(err)
	}
	for y := range h {
		for x := range w {
			buf.SetRGBA(x, y, c.R, c.G, c.B, c.A)
		}
	}
	path := key.Path(level, rawExt)
	if err := artifact.WriteFile(path, func(w io.Writer) error {
		return teximage.EncodeRaw(w, buf)
	}); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixture struct {
	sched *manualScheduler
	store *artifact.Store
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		sched: newManualScheduler(),
		store: artifact.NewStore(t.TempDir()),
		dir:   t.TempDir(),
	}
}

func (f *fixture) path(name string) string { return filepath.Join(f.dir, name) }

func (f *fixture) stack(t *testing.T, path string, opts ...Option) *LevelStack {
	t.Helper()
	opts = append([]Option{WithStore(f.store), WithScheduler(f.sched)}, opts...)
	s := NewStack(path, opts...)
	t.Cleanup(s.Finish)
	return s
}
