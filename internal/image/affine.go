package image

import "math"

// Affine is a 2D affine transform
//
//	x' = a*x + b*y + c
//	y' = d*x + e*y + f
//
// used to project an image rectangle into screen pixels.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// Translate returns a translation by (tx, ty).
func Translate(tx, ty float64) Affine {
	return Affine{A: 1, C: tx, E: 1, F: ty}
}

// Scale returns a scale by (sx, sy) around the origin.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// Rotate returns a counter-clockwise rotation in radians.
func Rotate(angle float64) Affine {
	sin, cos := math.Sincos(angle)
	return Affine{A: cos, B: -sin, D: sin, E: cos}
}

// Shear returns a shear by (sx, sy).
func Shear(sx, sy float64) Affine {
	return Affine{A: 1, B: sx, D: sy, E: 1}
}

// Multiply returns m * o, which applies o first.
func (m Affine) Multiply(o Affine) Affine {
	return Affine{
		A: m.A*o.A + m.B*o.D,
		B: m.A*o.B + m.B*o.E,
		C: m.A*o.C + m.B*o.F + m.C,
		D: m.D*o.A + m.E*o.D,
		E: m.D*o.B + m.E*o.E,
		F: m.D*o.C + m.E*o.F + m.F,
	}
}

// TransformPoint maps (x, y).
func (m Affine) TransformPoint(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.C, m.D*x + m.E*y + m.F
}

// Footprint returns the on-screen extent of a w×h rectangle at the
// origin: the longer of each pair of opposite projected edges.
func (m Affine) Footprint(w, h float64) (float64, float64) {
	x0, y0 := m.TransformPoint(0, 0)
	x1, y1 := m.TransformPoint(w, 0)
	x2, y2 := m.TransformPoint(w, h)
	x3, y3 := m.TransformPoint(0, h)

	top := math.Hypot(x1-x0, y1-y0)
	bottom := math.Hypot(x2-x3, y2-y3)
	left := math.Hypot(x3-x0, y3-y0)
	right := math.Hypot(x2-x1, y2-y1)
	return max(top, bottom), max(left, right)
}
