package mipmap

import (
	"sync/atomic"

	"github.com/gogpu/texcache/internal/image"
)

// Payload is a reference-counted decoded level. The CPU stack holds one
// reference for as long as the level is Ready; a Selector takes its own
// while the level is uploaded or resident on the GPU. The pixel buffer
// goes back to the image pool when the last reference is released.
type Payload struct {
	img        *image.ImageBuf
	compressed bool
	refs       atomic.Int32
}

func newPayload(img *image.ImageBuf, compressed bool) *Payload {
	p := &Payload{img: img, compressed: compressed}
	p.refs.Store(1)
	return p
}

// Image returns the pixels. Valid only while the caller holds a
// reference.
func (p *Payload) Image() *image.ImageBuf { return p.img }

// Compressed reports whether the payload came from a mip-chain
// container. Such payloads are bound in a single upload.
func (p *Payload) Compressed() bool { return p.compressed }

// Retain adds a reference and returns p.
func (p *Payload) Retain() *Payload {
	p.refs.Add(1)
	return p
}

// Release drops a reference.
func (p *Payload) Release() {
	switch n := p.refs.Add(-1); {
	case n == 0:
		image.Put(p.img)
		p.img = nil
	case n < 0:
		panic("mipmap: payload released too many times")
	}
}
