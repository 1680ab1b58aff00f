package mipmap

import (
	"image"
	"math"
)

// layout is the immutable geometry of a stack, fixed at StartLoading.
type layout struct {
	native     image.Point
	first      image.Point
	maxLevel   int
	shouldSave []bool

	// source is set when the input itself is a mip-chain container; level
	// sizes then come from its header.
	source *Chain
}

// computeLayout sizes a stack for an image of the given native size.
//
// maxLevel is the largest L with max(native)>>L >= smallest. The first
// level is half the native size rounded up to a multiple of 2^(maxLevel-1)
// per axis, so every further level is an exact halving.
func computeLayout(native image.Point, smallest int, thumbnails []int, source *Chain) *layout {
	l := &layout{native: native, source: source}

	big := max(native.X, native.Y)
	for big>>(l.maxLevel+1) >= smallest {
		l.maxLevel++
	}
	if source != nil {
		l.maxLevel = min(l.maxLevel, source.Len()-1)
	}

	for {
		step := 1 << max(l.maxLevel-1, 0)
		l.first = image.Pt(roundUp((native.X+1)/2, step), roundUp((native.Y+1)/2, step))
		if source != nil && source.Len() > 1 {
			l.first = source.LevelSize(1)
		}
		if l.maxLevel == 0 {
			break
		}
		if sz := l.size(l.maxLevel); sz.X > 0 && sz.Y > 0 {
			break
		}
		l.maxLevel--
	}

	l.shouldSave = make([]bool, l.maxLevel+1)
	if source != nil || l.maxLevel == 0 {
		return l
	}
	for _, target := range thumbnails {
		if target <= 0 {
			continue
		}
		best, bestDist := 0, math.Inf(1)
		for lv := 1; lv <= l.maxLevel; lv++ {
			sz := l.size(lv)
			d := math.Abs(math.Log2(float64(max(sz.X, sz.Y)) / float64(target)))
			if d < bestDist {
				best, bestDist = lv, d
			}
		}
		if best > 0 {
			l.shouldSave[best] = true
		}
	}
	return l
}

// size returns the dimensions of level, or the zero point once halving
// would produce a zero dimension. Sizes never grow with level: a level is
// clamped to the native size on axes where rounding would exceed it.
func (l *layout) size(level int) image.Point {
	switch {
	case level < 0:
		return image.Point{}
	case l.source != nil:
		return l.source.LevelSize(level)
	case level == 0:
		return l.native
	}
	shift := level - 1
	if shift >= 62 {
		return image.Point{}
	}
	w := min(l.first.X>>shift, l.native.X)
	h := min(l.first.Y>>shift, l.native.Y)
	if w == 0 || h == 0 {
		return image.Point{}
	}
	return image.Pt(w, h)
}

// optimal picks the level whose resolution best matches an on-screen
// footprint of target pixels.
func (l *layout) optimal(target Vec2) int {
	first := l.first
	if target.X >= float64(first.X) || target.Y >= float64(first.Y) {
		return 0
	}
	if !(target.X > 0 && target.Y > 0) {
		return l.maxLevel
	}
	smallest := l.size(l.maxLevel)
	if !(target.X > float64(smallest.X) || target.Y > float64(smallest.Y)) {
		return l.maxLevel
	}
	ratio := min(float64(first.X)/target.X, float64(first.Y)/target.Y)
	level := int(math.Round(math.Log2(ratio))) + 1
	return min(max(level, 0), l.maxLevel)
}

func roundUp(n, step int) int {
	return (n + step - 1) / step * step
}
