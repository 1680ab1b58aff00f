package glyph

import (
	"fmt"
	"image"
	"sync"

	teximage "github.com/gogpu/texcache/internal/image"
	"github.com/gogpu/texcache/internal/texture"
)

// AtlasConfig holds atlas configuration.
type AtlasConfig struct {
	// PageSize is the width and height of each page. Must be a power of 2.
	// Default: 1024
	PageSize int

	// Padding is the number of free pixels kept right of and below every
	// bitmap so that filtering never bleeds into a neighbour.
	// Default: 1
	Padding int

	// MaxPages limits how many pages the atlas may grow to.
	// Default: 8
	MaxPages int
}

// DefaultAtlasConfig returns default configuration.
func DefaultAtlasConfig() AtlasConfig {
	return AtlasConfig{
		PageSize: 1024,
		Padding:  1,
		MaxPages: 8,
	}
}

// Validate checks if the configuration is valid.
func (c *AtlasConfig) Validate() error {
	if c.PageSize < 64 {
		return &ConfigError{Field: "PageSize", Reason: "must be at least 64"}
	}
	if c.PageSize > 8192 {
		return &ConfigError{Field: "PageSize", Reason: "must be at most 8192"}
	}
	if c.PageSize&(c.PageSize-1) != 0 {
		return &ConfigError{Field: "PageSize", Reason: "must be power of 2"}
	}
	if c.Padding < 0 || c.Padding > 16 {
		return &ConfigError{Field: "Padding", Reason: "must be in [0, 16]"}
	}
	if c.MaxPages < 1 || c.MaxPages > 256 {
		return &ConfigError{Field: "MaxPages", Reason: "must be in [1, 256]"}
	}
	return nil
}

// AtlasRef locates a bitmap inside the atlas. It does not own the space:
// it stays valid for the lifetime of the atlas.
type AtlasRef struct {
	Page int
	// Rect is the bitmap in page pixels.
	Rect image.Rectangle
	// UV is Rect normalized to the page: u0, v0, u1, v1.
	UV [4]float32
}

// DirtyFunc is told that rect of page changed and must be re-uploaded.
type DirtyFunc func(page int, rect image.Rectangle)

type atlasPage struct {
	img   *teximage.ImageBuf
	alloc *shelfAllocator
}

// Atlas is a set of Gray8 pages shared by every font. Insert may be called
// from any number of background jobs; it is serialized by the atlas' own
// lock. Dirty notifications are posted to a Queue and so reach the
// renderer on the goroutine that drains it.
type Atlas struct {
	cfg   AtlasConfig
	queue *Queue

	mu      sync.Mutex
	pages   []*atlasPage
	onDirty DirtyFunc
}

// NewAtlas returns an atlas with no pages. A nil queue gets a fresh one.
func NewAtlas(cfg AtlasConfig, queue *Queue) (*Atlas, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if queue == nil {
		queue = NewQueue()
	}
	return &Atlas{cfg: cfg, queue: queue}, nil
}

// Queue returns the queue dirty notifications are posted to.
func (a *Atlas) Queue() *Queue { return a.queue }

// OnDirty sets the callback that receives dirty rectangles. A nil fn
// stops notifications.
func (a *Atlas) OnDirty(fn DirtyFunc) {
	a.mu.Lock()
	a.onDirty = fn
	a.mu.Unlock()
}

// Insert copies img, which must be Gray8, into the first page with room,
// adding a page if none has. It returns ErrTooLarge for a bitmap that can
// never fit and ErrAtlasFull once MaxPages pages are full.
func (a *Atlas) Insert(img *teximage.ImageBuf) (AtlasRef, error) {
	if img.Format() != teximage.FormatGray8 {
		return AtlasRef{}, fmt.Errorf("%w: %v", ErrBadFormat, img.Format())
	}
	w, h := img.Width(), img.Height()

	a.mu.Lock()
	defer a.mu.Unlock()

	if w+a.cfg.Padding > a.cfg.PageSize || h+a.cfg.Padding > a.cfg.PageSize {
		return AtlasRef{}, fmt.Errorf("%w: %dx%d", ErrTooLarge, w, h)
	}

	page, x, y := -1, 0, 0
	for i, p := range a.pages {
		if px, py, ok := p.alloc.allocate(w, h); ok {
			page, x, y = i, px, py
			break
		}
	}
	if page < 0 {
		if len(a.pages) >= a.cfg.MaxPages {
			slogger().Warn("glyph: atlas full", "pages", len(a.pages), "w", w, "h", h)
			return AtlasRef{}, ErrAtlasFull
		}
		buf, err := teximage.NewImageBuf(a.cfg.PageSize, a.cfg.PageSize, teximage.FormatGray8)
		if err != nil {
			return AtlasRef{}, err
		}
		p := &atlasPage{img: buf, alloc: newShelfAllocator(a.cfg.PageSize, a.cfg.PageSize, a.cfg.Padding)}
		a.pages = append(a.pages, p)
		page = len(a.pages) - 1
		x, y, _ = p.alloc.allocate(w, h)
		slogger().Debug("glyph: atlas page added", "page", page)
	}

	dst := a.pages[page].img
	for row := range h {
		copy(dst.RowBytes(y + row)[x:x+w], img.RowBytes(row))
	}

	rect := image.Rect(x, y, x+w, y+h)
	size := float32(a.cfg.PageSize)
	ref := AtlasRef{
		Page: page,
		Rect: rect,
		UV: [4]float32{
			float32(rect.Min.X) / size, float32(rect.Min.Y) / size,
			float32(rect.Max.X) / size, float32(rect.Max.Y) / size,
		},
	}

	if fn := a.onDirty; fn != nil {
		a.queue.Post(func() { fn(page, rect) })
	}
	return ref, nil
}

// Pages returns the number of pages in use.
func (a *Atlas) Pages() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pages)
}

// Page returns a copy of page i, or nil if it does not exist.
func (a *Atlas) Page(i int) *teximage.ImageBuf {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.pages) {
		return nil
	}
	return a.pages[i].img.Clone()
}

// pack copies rect of page i into scratch in the layout of up.
func (a *Atlas) pack(i int, rect image.Rectangle, up *texture.Upload, scratch *[]byte) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.pages) {
		return nil, false
	}
	return up.Pack(a.pages[i].img, rect, scratch), true
}

// Utilization returns the used share of all page area.
func (a *Atlas) Utilization() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range a.pages {
		sum += p.alloc.utilization()
	}
	return sum / float64(len(a.pages))
}
