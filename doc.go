// Package texcache keeps decoded image mipmap levels and glyph distance
// fields resident on the CPU and, through a caller-supplied
// gpucontext.TextureCreator, on the GPU.
//
// # Overview
//
// texcache decides what to load, when to evict and where derived
// artifacts live on disk. Drawing stays with the caller: the mipmap
// package picks levels and uploads them in row bands through the caller's
// gpucontext textures, and the glyph package places distance fields in an
// atlas whose dirty regions glyph.Textures mirrors into page textures.
//
// # Quick Start
//
//	c, err := texcache.New()
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	m, err := c.Mipmaps("photo.jpg", false)
//	if err != nil {
//		return err
//	}
//	defer m.Release()
//
//	sel := m.Selector(drawer.TextureCreator())
//	defer sel.Release()
//	// every frame:
//	if _, err := sel.Draw(drawer, mipmap.Vec2{X: 800, Y: 600}, 0, 0); err != nil && !errors.Is(err, mipmap.ErrNoLevel) {
//		return err
//	}
//
// # Packages
//
//   - mipmap: level stacks, background loading and eviction, GPU level
//     selection, the compressed mip chain container.
//   - glyph: glyph distance fields, the on-disk glyph index, the shared
//     atlas.
//   - artifact: content-keyed artifact paths and atomic writes.
//   - cache: a generic sharded LRU.
//
// # Configuration
//
// Options can come from code or from a YAML file loaded with LoadConfig
// and applied with WithConfig.
//
// # Logging
//
// texcache is silent by default. SetLogger enables structured logging for
// this package and every sub-package.
package texcache
