package glyph

import (
	"errors"
	"image"
	"math"
	"testing"
)

func square(lo, hi float32) Outline {
	return Outline{Segments: []Segment{
		{Op: MoveTo, Args: [3]Point{{lo, lo}}},
		{Op: LineTo, Args: [3]Point{{hi, lo}}},
		{Op: LineTo, Args: [3]Point{{hi, hi}}},
		{Op: LineTo, Args: [3]Point{{lo, hi}}},
	}}
}

func TestSDFSign(t *testing.T) {
	// 32×32 hi-res square, 8 output pixels across at 4x oversampling.
	bm, err := generateSDF(square(8, 40), SDFParams{Size: 8, Oversample: 4, Spread: 2})
	if err != nil {
		t.Fatal(err)
	}
	if bm.origin != (image.Point{}) {
		t.Errorf("origin = %v", bm.origin)
	}
	if got := bm.img.Size(); got != image.Pt(12, 12) {
		t.Fatalf("size = %v, want 12x12", got)
	}

	at := func(x, y int) uint8 { return bm.img.RowBytes(y)[x] }
	tests := []struct {
		name   string
		x, y   int
		inside bool
	}{
		{"center", 6, 6, true},
		{"inner edge", 2, 2, true},
		{"inner edge right", 9, 6, true},
		{"outer edge", 1, 1, false},
		{"outer edge right", 10, 6, false},
		{"corner", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := at(tt.x, tt.y)
			if tt.inside && v <= edgeValue {
				t.Errorf("(%d,%d) = %d, want above %d", tt.x, tt.y, v, edgeValue)
			}
			if !tt.inside && v >= edgeValue {
				t.Errorf("(%d,%d) = %d, want below %d", tt.x, tt.y, v, edgeValue)
			}
		})
	}
	if at(6, 6) != 255 || at(0, 0) != 0 {
		t.Errorf("far values %d and %d, want saturated", at(6, 6), at(0, 0))
	}
}

func TestSDFSymmetric(t *testing.T) {
	bm, err := generateSDF(square(8, 40), SDFParams{Size: 8, Oversample: 4, Spread: 2})
	if err != nil {
		t.Fatal(err)
	}
	n := bm.img.Width()
	for y := range n {
		for x := range n {
			a := bm.img.RowBytes(y)[x]
			if b := bm.img.RowBytes(x)[y]; a != b {
				t.Fatalf("(%d,%d)=%d but (%d,%d)=%d", x, y, a, y, x, b)
			}
			if b := bm.img.RowBytes(y)[n-1-x]; a != b {
				t.Fatalf("(%d,%d)=%d but mirror %d", x, y, a, b)
			}
		}
	}
}

func TestSDFGlyphHole(t *testing.T) {
	face := goRegular(t)
	p := DefaultSDFParams()
	outline, err := face.Outline(face.Index('O'), float64(p.Size*p.Oversample))
	if err != nil {
		t.Fatal(err)
	}
	bm, err := generateSDF(outline, p)
	if err != nil {
		t.Fatal(err)
	}
	// The middle of an 'O' is a counter, outside the ink.
	w, h := bm.img.Width(), bm.img.Height()
	if v := bm.img.RowBytes(h / 2)[w/2]; v >= edgeValue {
		t.Errorf("counter of O = %d, want outside", v)
	}
	// Walking right from the center must cross into the ring.
	var maxV uint8
	for x := w / 2; x < w; x++ {
		maxV = max(maxV, bm.img.RowBytes(h / 2)[x])
	}
	if maxV <= edgeValue {
		t.Errorf("never entered the ring, max %d", maxV)
	}
}

func TestDistanceTransform1D(t *testing.T) {
	inside := []bool{false, false, true, false, false}
	got := distanceTransform(inside, 5, 1, true)
	want := []float64{4, 1, 0, 1, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDistanceTransform2D(t *testing.T) {
	const w, h = 7, 5
	inside := make([]bool, w*h)
	inside[2*w+3] = true
	got := distanceTransform(inside, w, h, true)
	for y := range h {
		for x := range w {
			dx, dy := float64(x-3), float64(y-2)
			if want := dx*dx + dy*dy; math.Abs(got[y*w+x]-want) > 1e-9 {
				t.Errorf("(%d,%d) = %v, want %v", x, y, got[y*w+x], want)
			}
		}
	}
}

func TestSDFParamsValidate(t *testing.T) {
	tests := []struct {
		p     SDFParams
		field string
	}{
		{DefaultSDFParams(), ""},
		{SDFParams{Size: 2, Oversample: 4, Spread: 1}, "Size"},
		{SDFParams{Size: 32, Oversample: 0, Spread: 4}, "Oversample"},
		{SDFParams{Size: 32, Oversample: 4, Spread: 0}, "Spread"},
		{SDFParams{Size: 8, Oversample: 4, Spread: 9}, "Spread"},
	}
	for _, tt := range tests {
		err := tt.p.Validate()
		if tt.field == "" {
			if err != nil {
				t.Errorf("%+v: %v", tt.p, err)
			}
			continue
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
			t.Errorf("%+v: %v, want %s error", tt.p, err, tt.field)
		}
	}
}

func TestRoundToStep(t *testing.T) {
	for _, tt := range []struct{ n, floor, ceil int }{
		{0, 0, 0}, {5, 4, 8}, {8, 8, 8}, {-1, -4, 0}, {-4, -4, -4}, {-5, -8, -4},
	} {
		if got := floorTo(tt.n, 4); got != tt.floor {
			t.Errorf("floorTo(%d) = %d, want %d", tt.n, got, tt.floor)
		}
		if got := ceilTo(tt.n, 4); got != tt.ceil {
			t.Errorf("ceilTo(%d) = %d, want %d", tt.n, got, tt.ceil)
		}
	}
}
