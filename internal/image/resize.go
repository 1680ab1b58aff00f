package image

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Quarter halves src in both axes with a 2x2 box filter. Odd trailing
// rows and columns are folded into the last output pixel.
func Quarter(src *ImageBuf) (*ImageBuf, error) {
	dstW := max(1, src.width/2)
	dstH := max(1, src.height/2)
	dst, err := Get(dstW, dstH, src.format)
	if err != nil {
		return nil, err
	}

	bpp := src.format.BytesPerPixel()
	for dy := range dstH {
		sy0 := dy * 2
		sy1 := min(sy0+1, src.height-1)
		row0 := src.RowBytes(sy0)
		row1 := src.RowBytes(sy1)
		out := dst.RowBytes(dy)
		for dx := range dstW {
			sx0 := dx * 2 * bpp
			sx1 := min(dx*2+1, src.width-1) * bpp
			for c := range bpp {
				sum := uint16(row0[sx0+c]) + uint16(row0[sx1+c]) +
					uint16(row1[sx0+c]) + uint16(row1[sx1+c])
				out[dx*bpp+c] = byte((sum + 2) / 4)
			}
		}
	}
	return dst, nil
}

// Resize scales src to width×height. Minification uses Catmull-Rom; the
// result has the same format as src.
func Resize(src *ImageBuf, width, height int) (*ImageBuf, error) {
	return resizeWith(draw.CatmullRom, src, width, height)
}

func resizeWith(scaler draw.Scaler, src *ImageBuf, width, height int) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image: resize to %dx%d: %w", width, height, ErrInvalidDimensions)
	}
	dst, err := Get(width, height, src.format)
	if err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, width, height)
	var target draw.Image
	switch src.format {
	case FormatGray8:
		target = &image.Gray{Pix: dst.data, Stride: dst.stride, Rect: rect}
	default:
		target = &image.NRGBA{Pix: dst.data, Stride: dst.stride, Rect: rect}
	}
	s := src.ToStdImage()
	scaler.Scale(target, rect, s, s.Bounds(), draw.Src, nil)
	return dst, nil
}
