package texcache

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/texcache/artifact"
	"github.com/gogpu/texcache/glyph"
	"github.com/gogpu/texcache/internal/sched"
	"github.com/gogpu/texcache/mipmap"
)

// Cache owns everything shared between images and fonts: the artifact
// store, the background scheduler, the glyph cache and its atlas, and a
// registry of level stacks so that one source is decoded only once.
//
// A Cache lives until Close. It is safe for concurrent use.
type Cache struct {
	opts   options
	store  *artifact.Store
	sched  *sched.Scheduler
	atlas  *glyph.Atlas
	glyphs *glyph.Cache

	mu     sync.Mutex
	closed bool
	stacks map[stackKey]*Mipmaps
}

type stackKey struct {
	path       string
	compressed bool
}

// New creates a cache and starts its background workers.
func New(opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	atlas, err := glyph.NewAtlas(o.atlas, nil)
	if err != nil {
		return nil, err
	}
	store := artifact.NewStore(artifact.Root(o.dir))
	s := sched.New(sched.WithWorkers(o.workers))
	glyphs, err := glyph.NewCache(store, s, atlas, o.glyph...)
	if err != nil {
		s.Close()
		return nil, err
	}

	Logger().Info("texcache: opened", "root", store.Root())
	return &Cache{
		opts:   o,
		store:  store,
		sched:  s,
		atlas:  atlas,
		glyphs: glyphs,
		stacks: make(map[stackKey]*Mipmaps),
	}, nil
}

// Store returns the artifact store.
func (c *Cache) Store() *artifact.Store { return c.store }

// Glyphs returns the glyph cache.
func (c *Cache) Glyphs() *glyph.Cache { return c.glyphs }

// Atlas returns the glyph atlas.
func (c *Cache) Atlas() *glyph.Atlas { return c.atlas }

// AtlasTextures returns device textures that follow the shared atlas.
// They replace any earlier atlas dirty callback.
func (c *Cache) AtlasTextures(tc gpucontext.TextureCreator) *glyph.Textures {
	return glyph.NewTextures(c.atlas, tc)
}

// Mipmaps is a shared handle to the level stack of one source. Call
// Release when done with it.
type Mipmaps struct {
	*mipmap.LevelStack

	c     *Cache
	key   stackKey
	refs  int // guarded by c.mu
	ready chan struct{}
	err   error
}

// Mipmaps returns the level stack for path, starting it on first use.
// Callers asking for the same file and compressed flag share one stack.
// Errors are those of LevelStack.StartLoading, or ErrClosed.
func (c *Cache) Mipmaps(path string, compressed bool) (*Mipmaps, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("texcache: resolve %q: %w", path, err)
	}
	key := stackKey{path: abs, compressed: compressed}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if m, ok := c.stacks[key]; ok {
		m.refs++
		c.mu.Unlock()
		<-m.ready
		if m.err != nil {
			return nil, m.err
		}
		return m, nil
	}
	opts := append(append([]mipmap.Option(nil), c.opts.mipmap...),
		mipmap.WithStore(c.store), mipmap.WithScheduler(c.sched))
	m := &Mipmaps{
		LevelStack: mipmap.NewStack(abs, opts...),
		c:          c,
		key:        key,
		refs:       1,
		ready:      make(chan struct{}),
	}
	c.stacks[key] = m
	c.mu.Unlock()

	// Other callers wait on ready instead of holding the registry lock
	// through the probe.
	if err := m.StartLoading(compressed); err != nil {
		c.mu.Lock()
		if c.stacks[key] == m {
			delete(c.stacks, key)
		}
		c.mu.Unlock()
		m.err = err
		close(m.ready)
		return nil, err
	}
	close(m.ready)
	return m, nil
}

// Selector returns a selector drawing from m with the cache's upload
// budget.
func (m *Mipmaps) Selector(r gpucontext.TextureCreator, opts ...mipmap.SelectorOption) *mipmap.Selector {
	opts = append([]mipmap.SelectorOption{mipmap.WithUploadBudget(m.c.opts.uploadBudget)}, opts...)
	return mipmap.NewSelector(m.LevelStack, r, opts...)
}

// Release drops this reference. The last release removes the stack from
// the registry and finishes it. Extra calls are ignored.
func (m *Mipmaps) Release() {
	c := m.c
	c.mu.Lock()
	if m.refs <= 0 {
		c.mu.Unlock()
		return
	}
	m.refs--
	last := m.refs == 0
	if last && c.stacks[m.key] == m {
		delete(c.stacks, m.key)
	}
	c.mu.Unlock()
	if last {
		m.Finish()
	}
}

// Len returns the number of live shared stacks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stacks)
}

// Close finishes every stack, stops the glyph workers and the scheduler.
// Handles still held stay readable but no longer load anything.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	stacks := make([]*Mipmaps, 0, len(c.stacks))
	for _, m := range c.stacks {
		stacks = append(stacks, m)
	}
	clear(c.stacks)
	c.mu.Unlock()

	for _, m := range stacks {
		<-m.ready
		m.Finish()
	}
	c.glyphs.Close()
	c.sched.Close()
	Logger().Info("texcache: closed", "root", c.store.Root(), "stacks", len(stacks))
	return nil
}
