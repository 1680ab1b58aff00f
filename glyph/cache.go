// Package glyph caches signed distance fields of font glyphs in a shared
// texture atlas.
//
// A glyph is looked up in three places, cheapest first: an in-memory
// cache, the on-disk index of previously generated distance fields, and
// finally the generator, which rasterizes the outline and runs a
// Euclidean distance transform. Everything past the memory cache happens
// on one background task per font; Glyph itself never blocks on it and
// returns nil while a glyph is pending.
//
//	c, _ := glyph.NewCache(store, scheduler, atlas)
//	fc := c.Font(face)
//	if g := fc.Glyph(gid); g != nil {
//		draw(g.Atlas, g.Location, g.Size)
//	}
package glyph

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/texcache/artifact"
	"github.com/gogpu/texcache/cache"
	teximage "github.com/gogpu/texcache/internal/image"
	"github.com/gogpu/texcache/internal/sched"
)

// Scheduler runs the per-font workers. *sched.Scheduler implements it.
type Scheduler interface {
	Add(t sched.Task, prio sched.Priority, at time.Time) error
	Remove(t sched.Task)
	Now() time.Time
}

var _ Scheduler = (*sched.Scheduler)(nil)

// Vec2 is a position or extent in font units.
type Vec2 struct {
	X, Y float32
}

// Glyph is a distance field placed in the atlas. Location and Size give
// the box the bitmap covers relative to the glyph origin, in font units,
// spread margin included.
type Glyph struct {
	Location Vec2
	Size     Vec2
	Atlas    AtlasRef
}

// EmptyGlyph is returned for every glyph that has no ink.
var EmptyGlyph = &Glyph{}

// Status describes a memory cache slot.
type Status uint8

const (
	// Absent means the glyph has not been requested yet.
	Absent Status = iota
	// Pending means a background job will fill the slot.
	Pending
	Ready
	// Empty means the glyph has no outline. See EmptyGlyph.
	Empty
	// Failed means generation failed. It is not retried until the
	// process restarts.
	Failed
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

const (
	// DefaultReferenceSize is the distance field resolution in pixels per
	// em.
	DefaultReferenceSize = 32
	// DefaultOversample is the rasterization factor above the reference
	// size.
	DefaultOversample = 4
	// DefaultSpread is the distance field range in reference pixels.
	DefaultSpread = 4
)

// slotsPerShard lets any shard hold every glyph index of a font, so slots
// are never evicted. An evicted slot would lose its atlas placement, which
// the atlas never gives back.
const slotsPerShard = math.MaxUint16 + 1

// Option configures a Cache.
type Option func(*options)

type options struct {
	sdf SDFParams
}

// WithReferenceSize sets the distance field resolution in pixels per em.
func WithReferenceSize(px int) Option {
	return func(o *options) { o.sdf.Size = px }
}

// WithOversample sets the rasterization factor.
func WithOversample(n int) Option {
	return func(o *options) { o.sdf.Oversample = n }
}

// WithSpread sets the distance range in reference pixels.
func WithSpread(px int) Option {
	return func(o *options) { o.sdf.Spread = px }
}

// Cache holds one FontCache per font identity. All fonts share the atlas
// and the on-disk index.
type Cache struct {
	store *artifact.Store
	sched Scheduler
	atlas *Atlas
	opts  options
	index *index

	closed atomic.Bool
	mu     sync.Mutex
	fonts  map[Identity]*FontCache
}

// NewCache returns a glyph cache writing distance fields under
// store.GlyphRoot().
func NewCache(store *artifact.Store, s Scheduler, atlas *Atlas, opts ...Option) (*Cache, error) {
	o := options{
		sdf: SDFParams{Size: DefaultReferenceSize, Oversample: DefaultOversample, Spread: DefaultSpread},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.sdf.Validate(); err != nil {
		return nil, err
	}
	return &Cache{
		store: store,
		sched: s,
		atlas: atlas,
		opts:  o,
		index: newIndex(store.GlyphRoot()),
		fonts: make(map[Identity]*FontCache),
	}, nil
}

// Atlas returns the atlas glyphs are placed in.
func (c *Cache) Atlas() *Atlas { return c.atlas }

// Font returns the cache for face, creating it on first use. Faces with
// the same identity share one FontCache.
func (c *Cache) Font(face Face) *FontCache {
	id := face.Identity()
	c.mu.Lock()
	defer c.mu.Unlock()
	if fc, ok := c.fonts[id]; ok {
		return fc
	}
	fc := &FontCache{
		c:     c,
		face:  face,
		id:    id,
		dir:   c.store.GlyphDir(string(id)),
		slots: cache.NewSharded[GlyphIndex, *slot](slotsPerShard, cache.IntHasher[GlyphIndex]),
	}
	fc.task = &worker{fc: fc}
	c.fonts[id] = fc
	return fc
}

// Glyph is shorthand for c.Font(face).Glyph(gid).
func (c *Cache) Glyph(face Face, gid GlyphIndex) *Glyph {
	return c.Font(face).Glyph(gid)
}

// Close unregisters every font worker, waiting for running ones. Requests
// still queued are marked Failed and the index is written. Glyphs that
// were not requested before Close fail immediately afterwards.
func (c *Cache) Close() {
	c.closed.Store(true)
	c.mu.Lock()
	fonts := make([]*FontCache, 0, len(c.fonts))
	for _, fc := range c.fonts {
		fonts = append(fonts, fc)
	}
	c.mu.Unlock()
	for _, fc := range fonts {
		c.sched.Remove(fc.task)
		fc.abandon()
	}
	if err := c.index.flush(); err != nil {
		slogger().Warn("glyph: index not written", "err", err)
	}
}

type result struct {
	glyph  *Glyph
	status Status
}

var (
	pendingResult = &result{status: Pending}
	emptyResult   = &result{glyph: EmptyGlyph, status: Empty}
	failedResult  = &result{status: Failed}
)

// slot is a memory cache entry. It is filled in place by the worker.
type slot struct {
	res atomic.Pointer[result]
}

func newSlot(r *result) *slot {
	s := &slot{}
	s.res.Store(r)
	return s
}

type jobKind uint8

const (
	loadDisk jobKind = iota
	generate
)

type request struct {
	gid     GlyphIndex
	kind    jobKind
	slot    *slot
	entry   indexEntry
	outline Outline
}

// FontCache is the glyph cache of one font.
type FontCache struct {
	c     *Cache
	face  Face
	id    Identity
	dir   string
	slots *cache.ShardedCache[GlyphIndex, *slot]
	task  *worker

	mu       sync.Mutex
	requests []request
}

// Identity returns the font identity.
func (fc *FontCache) Identity() Identity { return fc.id }

// Glyph returns the distance field of gid, or nil while it is pending or
// if it failed. Glyphs without ink return EmptyGlyph immediately. The
// first call for a font only starts loading the on-disk index.
func (fc *FontCache) Glyph(gid GlyphIndex) *Glyph {
	if s, ok := fc.slots.Get(gid); ok {
		return s.res.Load().glyph
	}
	if fc.c.closed.Load() {
		s, _ := fc.slots.LoadOrStore(gid, newSlot(failedResult))
		return s.res.Load().glyph
	}

	outline, err := fc.face.Outline(gid, fc.hiresPPEM())
	if err != nil {
		slogger().Warn("glyph: outline failed", "font", fc.id, "gid", gid, "err", err)
		s, _ := fc.slots.LoadOrStore(gid, newSlot(failedResult))
		return s.res.Load().glyph
	}
	if outline.Empty() {
		s, _ := fc.slots.LoadOrStore(gid, newSlot(emptyResult))
		return s.res.Load().glyph
	}

	if !fc.c.index.isLoaded() {
		fc.schedule()
		return nil
	}

	s, loaded := fc.slots.LoadOrStore(gid, newSlot(pendingResult))
	if loaded {
		return s.res.Load().glyph
	}
	req := request{gid: gid, kind: generate, slot: s, outline: outline}
	if e, ok := fc.c.index.lookup(fc.id, gid); ok && e.valid() {
		req.kind, req.entry = loadDisk, e
	}
	fc.mu.Lock()
	fc.requests = append(fc.requests, req)
	fc.mu.Unlock()
	if fc.c.closed.Load() {
		fc.abandon()
		return nil
	}
	fc.schedule()
	return nil
}

// Lookup reports the memory cache state of gid without starting any work.
func (fc *FontCache) Lookup(gid GlyphIndex) (*Glyph, Status) {
	s, ok := fc.slots.Get(gid)
	if !ok {
		return nil, Absent
	}
	r := s.res.Load()
	return r.glyph, r.status
}

// Pending returns the number of queued background jobs.
func (fc *FontCache) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.requests)
}

func (fc *FontCache) hiresPPEM() float64 {
	return float64(fc.c.opts.sdf.Size * fc.c.opts.sdf.Oversample)
}

func (fc *FontCache) schedule() {
	if err := fc.c.sched.Add(fc.task, sched.High, fc.c.sched.Now()); err != nil {
		slogger().Warn("glyph: worker not scheduled", "font", fc.id, "err", err)
	}
}

func (fc *FontCache) pop() (request, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.requests) == 0 {
		return request{}, false
	}
	r := fc.requests[0]
	fc.requests[0] = request{}
	fc.requests = fc.requests[1:]
	return r, true
}

// worker is the background task of one font. It loads the index and then
// drains the request queue. A request posted while it runs schedules one
// more run.
type worker struct {
	fc *FontCache
}

func (w *worker) Run(ctx context.Context) {
	fc := w.fc
	fc.c.index.load()
	defer func() {
		if err := fc.c.index.flush(); err != nil {
			slogger().Warn("glyph: index not written", "font", fc.id, "err", err)
		}
	}()
	for {
		if ctx.Err() != nil {
			fc.abandon()
			return
		}
		req, ok := fc.pop()
		if !ok {
			return
		}
		res := fc.process(req)
		req.slot.res.Store(res)
	}
}

// abandon marks every queued request Failed. It runs when no worker will
// pick them up any more.
func (fc *FontCache) abandon() {
	fc.mu.Lock()
	reqs := fc.requests
	fc.requests = nil
	fc.mu.Unlock()
	for _, req := range reqs {
		req.slot.res.Store(failedResult)
	}
	if len(reqs) > 0 {
		slogger().Debug("glyph: requests abandoned", "font", fc.id, "count", len(reqs))
	}
}

func (fc *FontCache) process(req request) *result {
	if req.kind == loadDisk {
		g, err := fc.fromDisk(req.entry)
		if err == nil {
			return &result{glyph: g, status: Ready}
		}
		slogger().Warn("glyph: artifact unusable, regenerating", "font", fc.id, "gid", req.gid, "err", err)
	}
	g, err := fc.generate(req.gid, req.outline)
	if err != nil {
		slogger().Warn("glyph: generation failed", "font", fc.id, "gid", req.gid, "err", err)
		return failedResult
	}
	return &result{glyph: g, status: Ready}
}

func (fc *FontCache) fromDisk(e indexEntry) (*Glyph, error) {
	img, err := teximage.LoadRaw(e.Src)
	if err != nil {
		return nil, err
	}
	defer teximage.Put(img)
	if img.Format() != teximage.FormatGray8 {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, img.Format())
	}
	ref, err := fc.c.atlas.Insert(img)
	if err != nil {
		return nil, err
	}
	return &Glyph{
		Location: Vec2{X: e.Rect[0], Y: e.Rect[1]},
		Size:     Vec2{X: e.Rect[2], Y: e.Rect[3]},
		Atlas:    ref,
	}, nil
}

func (fc *FontCache) generate(gid GlyphIndex, outline Outline) (*Glyph, error) {
	bm, err := generateSDF(outline, fc.c.opts.sdf)
	if err != nil {
		return nil, err
	}

	scale := float32(fc.face.UnitsPerEm()) / float32(fc.c.opts.sdf.Size)
	rect := []float32{
		float32(bm.origin.X) * scale,
		float32(bm.origin.Y) * scale,
		float32(bm.img.Width()) * scale,
		float32(bm.img.Height()) * scale,
	}

	src := filepath.Join(fc.dir, gid.String()+"."+teximage.RawExt)
	if err := artifact.WriteFile(src, func(w io.Writer) error {
		return teximage.EncodeRaw(w, bm.img)
	}); err != nil {
		slogger().Warn("glyph: artifact not written", "path", src, "err", err)
	} else {
		fc.c.index.put(fc.id, gid, indexEntry{Rect: rect, Src: src})
	}

	ref, err := fc.c.atlas.Insert(bm.img)
	if err != nil {
		return nil, err
	}
	slogger().Debug("glyph: generated", "font", fc.id, "gid", gid, "w", bm.img.Width(), "h", bm.img.Height())
	return &Glyph{
		Location: Vec2{X: rect[0], Y: rect[1]},
		Size:     Vec2{X: rect[2], Y: rect[3]},
		Atlas:    ref,
	}, nil
}
