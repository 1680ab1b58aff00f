package mipmap

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"

	teximage "github.com/gogpu/texcache/internal/image"
	"github.com/gogpu/texcache/internal/texture"
)

// Affine projects image coordinates into screen pixels.
type Affine = teximage.Affine

// Transforms for BindTransformed.
var (
	Translate = teximage.Translate
	Scale     = teximage.Scale
	Rotate    = teximage.Rotate
	Shear     = teximage.Shear
)

// TextureAllocator is implemented by texture creators that can allocate an
// empty texture from a descriptor. A Selector given one uploads Gray8
// levels as R8Unorm rather than expanding them to RGBA.
type TextureAllocator = texture.Allocator

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithUploadBudget sets how many bytes of a raster level a single Bind
// call may upload.
func WithUploadBudget(bytes int) SelectorOption {
	return func(s *Selector) {
		if bytes > 0 {
			s.budget = bytes
		}
	}
}

// gpuLevel is the device copy of one level.
type gpuLevel struct {
	up         *texture.Upload
	payload    *Payload
	generation uint64
	rowsDone   int
}

func (g *gpuLevel) rows() int { return g.payload.Image().Height() }

func (g *gpuLevel) complete() bool { return g.rowsDone >= g.rows() }

func (g *gpuLevel) remaining() int { return (g.rows() - g.rowsDone) * g.up.RowBytes() }

// upload writes the next rows, at most budget bytes of them but always at
// least one row, and returns the bytes written.
func (g *gpuLevel) upload(budget int, scratch *[]byte) (int, error) {
	n := min(g.rows()-g.rowsDone, max(1, budget/g.up.RowBytes()))
	if n <= 0 {
		return 0, nil
	}
	img := g.payload.Image()
	band := image.Rect(0, g.rowsDone, img.Width(), g.rowsDone+n)
	written, err := g.up.WriteRect(img, band, scratch)
	if err != nil {
		return 0, err
	}
	g.rowsDone += n
	return written, nil
}

func (g *gpuLevel) release() {
	texture.Destroy(g.up.Tex)
	g.payload.Release()
}

// Selector picks the mipmap level to draw with and keeps its device copy
// up to date. Bind never waits for the background loader. It is meant to
// be used from the render thread.
type Selector struct {
	stack   *LevelStack
	creator gpucontext.TextureCreator
	rgba    bool
	budget  int

	mu      sync.Mutex
	levels  map[int]*gpuLevel
	scratch []byte
}

// NewSelector returns a Selector that draws from stack and creates its
// textures with c.
func NewSelector(stack *LevelStack, c gpucontext.TextureCreator, opts ...SelectorOption) *Selector {
	_, alloc := c.(TextureAllocator)
	s := &Selector{
		stack:   stack,
		creator: c,
		rgba:    !alloc,
		budget:  DefaultUploadBudget,
		levels:  make(map[int]*gpuLevel),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BindTransformed is Bind for an image of size drawn through m. The
// footprint is the larger of each pair of opposite projected edges.
func (s *Selector) BindTransformed(size Vec2, m Affine) (int, error) {
	w, h := m.Footprint(size.X, size.Y)
	return s.Bind(Vec2{X: w, Y: h})
}

// Bind prepares the best available level for an on-screen footprint of
// size pixels and returns it; Texture then yields its device texture.
//
// A raster level is uploaded in row bands. All uploads made by one call,
// fallback included, stay within the upload budget, except that the first
// band of a call is always at least one row. Until the chosen level is
// complete the nearest other Ready level that is resident, or that fits in
// the budget, is returned instead. A compressed level is uploaded whole.
// ErrNoLevel means nothing can be drawn this frame.
func (s *Selector) Bind(size Vec2) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, _, err := s.bind(size)
	return level, err
}

// Draw binds the level for a footprint of size and draws it at (x, y).
func (s *Selector) Draw(d gpucontext.TextureDrawer, size Vec2, x, y float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, g, err := s.bind(size)
	if err != nil {
		return -1, err
	}
	if err := d.DrawTexture(g.up.Tex, x, y); err != nil {
		return -1, fmt.Errorf("mipmap: draw level %d: %w", level, err)
	}
	return level, nil
}

func (s *Selector) bind(size Vec2) (int, *gpuLevel, error) {
	s.sweep()

	level, ok := s.stack.Closest(size)
	if !ok {
		return -1, nil, ErrNoLevel
	}
	s.stack.MarkImage(level)

	g, spent, err := s.ensure(level)
	if err != nil {
		return -1, nil, err
	}
	if g.complete() {
		return level, g, nil
	}
	if rem := g.remaining(); rem <= s.budget-spent {
		if _, err := g.upload(rem, &s.scratch); err != nil {
			s.drop(level)
			return -1, nil, fmt.Errorf("mipmap: upload level %d: %w", level, err)
		}
		return level, g, nil
	}

	var fb *gpuLevel
	fbLevel := -1
	for _, l := range s.fallbacks(level) {
		if res, ok := s.levels[l]; ok && res.complete() {
			fbLevel, fb = l, res
			break
		}
		if need := s.pending(l); need <= 0 || need > s.budget-spent {
			continue
		}
		cand, n, err := s.ensure(l)
		if err != nil {
			continue
		}
		spent += n
		if !cand.complete() {
			n, err := cand.upload(cand.remaining(), &s.scratch)
			if err != nil {
				s.drop(l)
				continue
			}
			spent += n
		}
		fbLevel, fb = l, cand
		break
	}

	if left := s.budget - spent; spent == 0 || left >= g.up.RowBytes() {
		if _, err := g.upload(left, &s.scratch); err != nil {
			s.drop(level)
			return -1, nil, fmt.Errorf("mipmap: upload level %d: %w", level, err)
		}
	}
	if g.complete() {
		return level, g, nil
	}
	if fb != nil {
		return fbLevel, fb, nil
	}
	return -1, nil, ErrNoLevel
}

// pending returns the bytes still to upload for level, or zero if it is
// not Ready.
func (s *Selector) pending(level int) int {
	if g, ok := s.levels[level]; ok {
		return g.remaining()
	}
	return s.stack.levelBytes(level, s.rgba)
}

// fallbacks lists the Ready levels other than level, nearest first and
// sharper before coarser at equal distance.
func (s *Selector) fallbacks(level int) []int {
	ready := s.stack.readyLevels()
	isReady := make(map[int]bool, len(ready))
	for _, l := range ready {
		isReady[l] = true
	}
	var out []int
	for d := 1; d <= s.stack.MaxLevel(); d++ {
		if isReady[level-d] {
			out = append(out, level-d)
		}
		if isReady[level+d] {
			out = append(out, level+d)
		}
	}
	return out
}

// ensure returns the device copy of level, creating its texture if needed,
// and the bytes that creating it uploaded. The level must be Ready.
func (s *Selector) ensure(level int) (*gpuLevel, int, error) {
	if g, ok := s.levels[level]; ok {
		return g, 0, nil
	}
	p, gen, ok := s.stack.acquire(level)
	if !ok {
		return nil, 0, ErrNoLevel
	}
	label := fmt.Sprintf("%s#%d", s.stack.Path(), level)
	up, n, err := texture.Create(s.creator, label, p.Image(), p.Compressed(), &s.scratch)
	if err != nil {
		p.Release()
		return nil, 0, fmt.Errorf("mipmap: create texture for level %d: %w", level, err)
	}
	g := &gpuLevel{up: up, payload: p, generation: gen}
	if n > 0 {
		g.rowsDone = g.rows()
	}
	s.levels[level] = g
	return g, n, nil
}

// sweep drops device copies the stack has invalidated: the level was
// evicted or reloaded, or its GPU keep-alive expired.
func (s *Selector) sweep() {
	for l, g := range s.levels {
		lv := s.stack.Level(l)
		if lv.State != Ready || lv.Payload != g.payload || lv.GPUGeneration != g.generation {
			s.drop(l)
		}
	}
}

func (s *Selector) drop(level int) {
	if g, ok := s.levels[level]; ok {
		g.release()
		delete(s.levels, level)
	}
}

// Resident reports whether level is fully uploaded.
func (s *Selector) Resident(level int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.levels[level]
	return ok && g.complete()
}

// Texture returns the device texture of level, or nil unless it is fully
// uploaded.
func (s *Selector) Texture(level int) gpucontext.Texture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.levels[level]; ok && g.complete() {
		return g.up.Tex
	}
	return nil
}

// Release frees every texture and payload reference held by s.
func (s *Selector) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.levels {
		s.drop(l)
	}
	s.scratch = nil
}
