package image

import (
	"errors"
	"image"
)

var (
	// ErrInvalidDimensions is returned for non-positive width or height.
	ErrInvalidDimensions = errors.New("image: invalid dimensions")

	// ErrInvalidFormat is returned for an unknown Format.
	ErrInvalidFormat = errors.New("image: invalid format")

	// ErrDataTooShort is returned when a raw slice cannot hold the image.
	ErrDataTooShort = errors.New("image: data too short")
)

// ImageBuf is a tightly packed pixel buffer. It is not safe for concurrent
// mutation; the caches treat a buffer as immutable once it has been
// published as a level payload.
type ImageBuf struct {
	data   []byte
	width  int
	height int
	stride int
	format Format
}

// NewImageBuf allocates a zeroed buffer.
func NewImageBuf(width, height int, format Format) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}
	stride := format.RowBytes(width)
	return &ImageBuf{
		data:   make([]byte, stride*height),
		width:  width,
		height: height,
		stride: stride,
		format: format,
	}, nil
}

// FromRaw wraps existing pixel data without copying. The slice must hold
// at least height rows of width pixels.
func FromRaw(data []byte, width, height int, format Format) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}
	stride := format.RowBytes(width)
	if len(data) < stride*height {
		return nil, ErrDataTooShort
	}
	return &ImageBuf{
		data:   data[:stride*height],
		width:  width,
		height: height,
		stride: stride,
		format: format,
	}, nil
}

// Clone returns a deep copy.
func (b *ImageBuf) Clone() *ImageBuf {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &ImageBuf{
		data:   data,
		width:  b.width,
		height: b.height,
		stride: b.stride,
		format: b.format,
	}
}

// Width returns the width in pixels.
func (b *ImageBuf) Width() int { return b.width }

// Height returns the height in pixels.
func (b *ImageBuf) Height() int { return b.height }

// Stride returns the number of bytes per row.
func (b *ImageBuf) Stride() int { return b.stride }

// Format returns the pixel format.
func (b *ImageBuf) Format() Format { return b.format }

// Size returns the dimensions as an image.Point.
func (b *ImageBuf) Size() image.Point { return image.Pt(b.width, b.height) }

// Data returns the backing pixel slice.
func (b *ImageBuf) Data() []byte { return b.data }

// ByteSize returns the number of bytes the pixels occupy.
func (b *ImageBuf) ByteSize() int { return len(b.data) }

// IsEmpty reports whether the buffer holds no pixels.
func (b *ImageBuf) IsEmpty() bool {
	return b == nil || b.width == 0 || b.height == 0
}

// RowBytes returns row y, or nil when y is out of range.
func (b *ImageBuf) RowBytes(y int) []byte {
	if y < 0 || y >= b.height {
		return nil
	}
	start := y * b.stride
	return b.data[start : start+b.format.RowBytes(b.width)]
}

func (b *ImageBuf) offset(x, y int) int {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return -1
	}
	return y*b.stride + x*b.format.BytesPerPixel()
}

// GetRGBA returns the pixel at (x, y). Gray pixels expand to opaque gray.
// Out-of-range coordinates return transparent black.
func (b *ImageBuf) GetRGBA(x, y int) (r, g, bl, a uint8) {
	off := b.offset(x, y)
	if off < 0 {
		return 0, 0, 0, 0
	}
	switch b.format {
	case FormatGray8:
		v := b.data[off]
		return v, v, v, 255
	case FormatRGBA8:
		return b.data[off], b.data[off+1], b.data[off+2], b.data[off+3]
	}
	return 0, 0, 0, 0
}

// SetRGBA stores a pixel. Gray buffers keep the luminance.
func (b *ImageBuf) SetRGBA(x, y int, r, g, bl, a uint8) {
	off := b.offset(x, y)
	if off < 0 {
		return
	}
	switch b.format {
	case FormatGray8:
		b.data[off] = byte((int(r)*299 + int(g)*587 + int(bl)*114) / 1000)
	case FormatRGBA8:
		b.data[off] = r
		b.data[off+1] = g
		b.data[off+2] = bl
		b.data[off+3] = a
	}
}

// Clear zeroes all pixels.
func (b *ImageBuf) Clear() {
	clear(b.data)
}

// IsOpaque reports whether every pixel has alpha 255. Formats without
// alpha are always opaque.
func (b *ImageBuf) IsOpaque() bool {
	if !b.format.HasAlpha() {
		return true
	}
	for y := range b.height {
		row := b.RowBytes(y)
		for i := 3; i < len(row); i += 4 {
			if row[i] != 255 {
				return false
			}
		}
	}
	return true
}

// Texels copies the pixels of r into dst packed densely with bpp bytes per
// pixel and returns the filled slice. bpp is either the buffer's own pixel
// size or 4, which expands Gray8 to opaque gray RGBA. dst is grown when it
// is too small. r is clipped to the buffer.
func (b *ImageBuf) Texels(r image.Rectangle, bpp int, dst []byte) []byte {
	r = r.Intersect(image.Rect(0, 0, b.width, b.height))
	w, h := r.Dx(), r.Dy()
	n := w * h * bpp
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	src := b.format.BytesPerPixel()
	for y := range h {
		row := b.RowBytes(r.Min.Y + y)[r.Min.X*src : r.Max.X*src]
		out := dst[y*w*bpp : (y+1)*w*bpp]
		if bpp == src {
			copy(out, row)
			continue
		}
		for x, v := range row {
			o := out[x*4 : x*4+4]
			o[0], o[1], o[2], o[3] = v, v, v, 255
		}
	}
	return dst
}
