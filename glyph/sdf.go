package glyph

import (
	"image"
	"math"

	"golang.org/x/image/vector"

	teximage "github.com/gogpu/texcache/internal/image"
)

// edgeValue is the distance field byte that lies exactly on the outline.
// Inside is above it, outside below.
const edgeValue = 128

// SDFParams controls distance field generation.
type SDFParams struct {
	// Size is the output resolution in pixels per em.
	Size int
	// Oversample is the factor by which the outline is rasterized above
	// Size before the distance transform.
	Oversample int
	// Spread is the distance in output pixels that maps to the full byte
	// range on each side of the edge. It is also the padding around the
	// glyph.
	Spread int
}

// DefaultSDFParams returns 32 px per em, 4x oversampling and a 4 px
// spread.
func DefaultSDFParams() SDFParams {
	return SDFParams{Size: 32, Oversample: 4, Spread: 4}
}

// Validate checks p.
func (p SDFParams) Validate() error {
	switch {
	case p.Size < 4 || p.Size > 512:
		return &ConfigError{Field: "Size", Reason: "must be in [4, 512]"}
	case p.Oversample < 1 || p.Oversample > 16:
		return &ConfigError{Field: "Oversample", Reason: "must be in [1, 16]"}
	case p.Spread < 1 || p.Spread > p.Size:
		return &ConfigError{Field: "Spread", Reason: "must be in [1, Size]"}
	}
	return nil
}

// sdfBitmap is a generated distance field and its placement relative to
// the glyph origin, both in output pixels.
type sdfBitmap struct {
	img    *teximage.ImageBuf
	origin image.Point
}

// generateSDF rasterizes outline, which must be scaled to
// Size*Oversample pixels per em, and returns its signed distance field at
// Size pixels per em.
func generateSDF(outline Outline, p SDFParams) (sdfBitmap, error) {
	k := p.Oversample
	pad := p.Spread * k
	lo, hi := outline.Bounds()

	// Hi-res cell grid aligned to output pixels.
	x0 := floorTo(int(math.Floor(float64(lo.X)))-pad, k)
	y0 := floorTo(int(math.Floor(float64(lo.Y)))-pad, k)
	x1 := ceilTo(int(math.Ceil(float64(hi.X)))+pad, k)
	y1 := ceilTo(int(math.Ceil(float64(hi.Y)))+pad, k)
	w, h := x1-x0, y1-y0

	mask := rasterize(outline, w, h, float32(x0), float32(y0))

	n := w * h
	inside := make([]bool, n)
	for i, a := range mask.Pix {
		inside[i] = a >= 128
	}
	toInside := distanceTransform(inside, w, h, true)
	toOutside := distanceTransform(inside, w, h, false)

	// Signed distance in hi-res pixels, positive inside. Each side is
	// measured to the nearest pixel center across the edge, so half a
	// pixel is taken off to land on the edge.
	signed := make([]float64, n)
	for i := range signed {
		if inside[i] {
			signed[i] = math.Sqrt(toOutside[i]) - 0.5
		} else {
			signed[i] = -(math.Sqrt(toInside[i]) - 0.5)
		}
	}

	ow, oh := w/k, h/k
	out, err := teximage.NewImageBuf(ow, oh, teximage.FormatGray8)
	if err != nil {
		return sdfBitmap{}, err
	}
	scale := float64(edgeValue) / float64(pad)
	inv := 1 / float64(k*k)
	for oy := range oh {
		row := out.RowBytes(oy)
		for ox := range ow {
			var sum float64
			for dy := range k {
				base := (oy*k+dy)*w + ox*k
				for dx := range k {
					sum += signed[base+dx]
				}
			}
			v := edgeValue + sum*inv*scale
			row[ox] = uint8(math.Round(min(max(v, 0), 255)))
		}
	}
	return sdfBitmap{img: out, origin: image.Pt(x0/k, y0/k)}, nil
}

// rasterize fills outline into a w×h coverage mask whose top-left corner
// is at (dx, dy) in outline coordinates.
func rasterize(outline Outline, w, h int, dx, dy float32) *image.Alpha {
	r := vector.NewRasterizer(w, h)
	open := false
	for _, s := range outline.Segments {
		a := s.Args
		switch s.Op {
		case MoveTo:
			if open {
				r.ClosePath()
			}
			r.MoveTo(a[0].X-dx, a[0].Y-dy)
			open = true
		case LineTo:
			r.LineTo(a[0].X-dx, a[0].Y-dy)
		case QuadTo:
			r.QuadTo(a[0].X-dx, a[0].Y-dy, a[1].X-dx, a[1].Y-dy)
		case CubeTo:
			r.CubeTo(a[0].X-dx, a[0].Y-dy, a[1].X-dx, a[1].Y-dy, a[2].X-dx, a[2].Y-dy)
		}
	}
	if open {
		r.ClosePath()
	}
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	r.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// distanceTransform returns, for every cell, the squared Euclidean
// distance to the nearest cell whose inside flag equals target. Cells
// that already match get zero.
func distanceTransform(inside []bool, w, h int, target bool) []float64 {
	const inf = 1e20
	grid := make([]float64, w*h)
	for i, in := range inside {
		if in != target {
			grid[i] = inf
		}
	}

	n := max(w, h)
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for x := range w {
		for y := range h {
			f[y] = grid[y*w+x]
		}
		edt1D(f[:h], d[:h], v, z)
		for y := range h {
			grid[y*w+x] = d[y]
		}
	}
	for y := range h {
		copy(f[:w], grid[y*w:(y+1)*w])
		edt1D(f[:w], d[:w], v, z)
		copy(grid[y*w:(y+1)*w], d[:w])
	}
	return grid
}

// edt1D is the one-dimensional squared distance transform of sampled
// function f under the lower envelope of parabolas (Felzenszwalb and
// Huttenlocher).
func edt1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	if n == 0 {
		return
	}
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := range n {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

func intersect(f []float64, q, p int) float64 {
	fq, fp := f[q], f[p]
	return ((fq + float64(q*q)) - (fp + float64(p*p))) / float64(2*q-2*p)
}

func floorTo(n, step int) int {
	if n >= 0 {
		return n / step * step
	}
	return -ceilTo(-n, step)
}

func ceilTo(n, step int) int {
	if n >= 0 {
		return (n + step - 1) / step * step
	}
	return -floorTo(-n, step)
}
