// Package texture fills gpucontext textures from CPU pixel buffers.
package texture

import (
	"errors"
	"image"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	teximage "github.com/gogpu/texcache/internal/image"
)

// ErrNotWritable is returned when a texture created from a descriptor
// accepts neither region nor whole-texture updates.
var ErrNotWritable = errors.New("texture: texture cannot be updated")

// Allocator is implemented by creators that can allocate an empty texture
// of a given format. Gray8 buffers then upload as R8Unorm instead of being
// expanded to RGBA.
type Allocator interface {
	NewTexture(desc gputypes.TextureDescriptor) (gpucontext.Texture, error)
}

// Upload is a device texture being filled from an ImageBuf.
type Upload struct {
	Tex    gpucontext.Texture
	region gpucontext.TextureRegionUpdater
	bpp    int
	width  int
	height int
}

// Descriptor returns the descriptor of a sampled texture holding img.
func Descriptor(label string, img *teximage.ImageBuf) gputypes.TextureDescriptor {
	return gputypes.TextureDescriptor{
		Label:         label,
		Size:          gputypes.NewExtent2D(uint32(img.Width()), uint32(img.Height())), //nolint:gosec // buffer sizes are positive
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        Format(img.Format()),
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}
}

// Format maps a buffer format to its texture format.
func Format(f teximage.Format) gputypes.TextureFormat {
	if f == teximage.FormatGray8 {
		return gputypes.TextureFormatR8Unorm
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// Create allocates a texture the size of img. With whole set, or when the
// texture cannot be updated by region, all of img is uploaded at once and
// its byte count returned. Otherwise the contents are undefined until every
// row has been written. Pixels handed to the creator are freshly allocated
// since it may keep them. scratch is reused by region writes.
func Create(c gpucontext.TextureCreator, label string, img *teximage.ImageBuf, whole bool, scratch *[]byte) (*Upload, int, error) {
	u := &Upload{width: img.Width(), height: img.Height(), bpp: 4}
	if a, ok := c.(Allocator); ok {
		tex, err := a.NewTexture(Descriptor(label, img))
		if err != nil {
			return nil, 0, err
		}
		u.Tex = tex
		u.bpp = img.Format().BytesPerPixel()
		u.region, _ = tex.(gpucontext.TextureRegionUpdater)
		if !whole && u.region != nil {
			return u, 0, nil
		}
		n, err := u.WriteRect(img, u.Bounds(), scratch)
		if err != nil {
			Destroy(tex)
			return nil, 0, err
		}
		return u, n, nil
	}

	if !whole {
		tex, err := c.NewTextureFromRGBA(u.width, u.height, make([]byte, u.width*u.height*4))
		if err != nil {
			return nil, 0, err
		}
		if u.region, _ = tex.(gpucontext.TextureRegionUpdater); u.region != nil {
			u.Tex = tex
			return u, 0, nil
		}
		Destroy(tex)
	}
	data := img.Texels(u.Bounds(), 4, nil)
	tex, err := c.NewTextureFromRGBA(u.width, u.height, data)
	if err != nil {
		return nil, 0, err
	}
	u.Tex = tex
	return u, len(data), nil
}

// Bounds returns the texture rectangle.
func (u *Upload) Bounds() image.Rectangle { return image.Rect(0, 0, u.width, u.height) }

// Regional reports whether the texture accepts partial updates.
func (u *Upload) Regional() bool { return u.region != nil }

// RowBytes returns the upload size of one texture row.
func (u *Upload) RowBytes() int { return u.width * u.bpp }

// Pack copies r of img into scratch in the texture's layout.
func (u *Upload) Pack(img *teximage.ImageBuf, r image.Rectangle, scratch *[]byte) []byte {
	data := img.Texels(r, u.bpp, *scratch)
	*scratch = data
	return data
}

// Write uploads data packed by Pack for r. Without region support only the
// whole texture can be written.
func (u *Upload) Write(r image.Rectangle, data []byte) error {
	if u.region != nil {
		return u.region.UpdateRegion(r.Min.X, r.Min.Y, r.Dx(), r.Dy(), data)
	}
	up, ok := u.Tex.(gpucontext.TextureUpdater)
	if !ok || r != u.Bounds() {
		return ErrNotWritable
	}
	return up.UpdateData(data)
}

// WriteRect packs and uploads r of img and returns the bytes written.
func (u *Upload) WriteRect(img *teximage.ImageBuf, r image.Rectangle, scratch *[]byte) (int, error) {
	data := u.Pack(img, r, scratch)
	if err := u.Write(r, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Destroy frees tex if its implementation supports it.
func Destroy(tex gpucontext.Texture) {
	if d, ok := tex.(interface{ Destroy() }); ok {
		d.Destroy()
	}
}
