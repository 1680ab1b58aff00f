package image

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // register GIF decoder
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp" // register BMP decoder
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Info is the result of probing a source image without decoding pixels.
type Info struct {
	Width  int
	Height int
	Codec  string // "png", "jpeg", "webp", ...
}

// Probe reads just enough of the file at path to learn its dimensions.
func Probe(path string) (Info, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Info{}, fmt.Errorf("image: open: %w", err)
	}
	defer f.Close()

	cfg, codec, err := image.DecodeConfig(f)
	if err != nil {
		return Info{}, fmt.Errorf("image: probe %s: %w", filepath.Base(path), err)
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Codec: codec}, nil
}

// Load decodes the file at path into an RGBA8 buffer.
func Load(path string) (*ImageBuf, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("image: open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes any registered format into an RGBA8 buffer.
func Decode(r io.Reader) (*ImageBuf, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	return FromStdImage(img)
}

// FromStdImage converts img to an RGBA8 buffer taken from the shared pool.
func FromStdImage(img image.Image) (*ImageBuf, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	buf, err := Get(width, height, FormatRGBA8)
	if err != nil {
		return nil, err
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := range height {
			start := (y+bounds.Min.Y-nrgba.Rect.Min.Y)*nrgba.Stride + (bounds.Min.X-nrgba.Rect.Min.X)*4
			copy(buf.RowBytes(y), nrgba.Pix[start:start+width*4])
		}
		return buf, nil
	}

	// Everything else goes through draw, which un-premultiplies into NRGBA.
	dst := &image.NRGBA{Pix: buf.data, Stride: buf.stride, Rect: image.Rect(0, 0, width, height)}
	draw.Draw(dst, dst.Rect, img, bounds.Min, draw.Src)
	return buf, nil
}

// ToStdImage wraps b as a standard library image sharing its pixels.
func (b *ImageBuf) ToStdImage() image.Image {
	rect := image.Rect(0, 0, b.width, b.height)
	switch b.format {
	case FormatGray8:
		return &image.Gray{Pix: b.data, Stride: b.stride, Rect: rect}
	default:
		return &image.NRGBA{Pix: b.data, Stride: b.stride, Rect: rect}
	}
}
