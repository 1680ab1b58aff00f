package glyph

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/texcache/internal/texture"
)

// TextureAllocator is implemented by texture creators that can allocate an
// empty texture from a descriptor. Pages are then kept as R8Unorm textures
// instead of gray RGBA.
type TextureAllocator = texture.Allocator

// Textures mirrors atlas pages into device textures. A page texture is
// created on first use from the page as it is then, and afterwards patched
// with every dirty rectangle the atlas reports. Patching happens on the
// goroutine that drains the atlas queue.
type Textures struct {
	atlas   *Atlas
	creator gpucontext.TextureCreator

	mu       sync.Mutex
	pages    []*texture.Upload
	scratch  []byte
	err      error
	released bool
}

// NewTextures returns page textures for a created with c. It takes over
// the atlas' dirty callback.
func NewTextures(a *Atlas, c gpucontext.TextureCreator) *Textures {
	t := &Textures{atlas: a, creator: c}
	a.OnDirty(t.patch)
	return t
}

// Page returns the texture of atlas page i, creating it if needed.
func (t *Textures) Page(i int) (gpucontext.Texture, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil, ErrReleased
	}
	if i < len(t.pages) && t.pages[i] != nil {
		return t.pages[i].Tex, nil
	}
	img := t.atlas.Page(i)
	if img == nil {
		return nil, fmt.Errorf("glyph: atlas has no page %d", i)
	}
	up, _, err := texture.Create(t.creator, fmt.Sprintf("glyph atlas page %d", i), img, true, &t.scratch)
	if err != nil {
		return nil, fmt.Errorf("glyph: create texture for page %d: %w", i, err)
	}
	for len(t.pages) <= i {
		t.pages = append(t.pages, nil)
	}
	t.pages[i] = up
	return up.Tex, nil
}

// patch uploads rect of page to its texture. Pages without a texture are
// skipped: Page copies them whole when first asked.
func (t *Textures) patch(page int, rect image.Rectangle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released || page >= len(t.pages) || t.pages[page] == nil {
		return
	}
	up := t.pages[page]
	if !up.Regional() {
		// Recreated from the whole page on next use.
		texture.Destroy(up.Tex)
		t.pages[page] = nil
		return
	}
	data, ok := t.atlas.pack(page, rect, up, &t.scratch)
	if !ok {
		return
	}
	if err := up.Write(rect, data); err != nil {
		t.err = fmt.Errorf("glyph: update page %d: %w", page, err)
		slogger().Warn("glyph: page update failed", "page", page, "rect", rect, "err", err)
	}
}

// Err returns the last error met while patching a page.
func (t *Textures) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Release destroys every page texture and stops following the atlas.
func (t *Textures) Release() {
	t.atlas.OnDirty(nil)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, up := range t.pages {
		if up != nil {
			texture.Destroy(up.Tex)
		}
	}
	t.pages = nil
	t.scratch = nil
	t.released = true
}
