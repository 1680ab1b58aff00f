package mipmap

import (
	"image"
	"math"
	"slices"
	"testing"
)

func TestComputeLayout(t *testing.T) {
	tests := []struct {
		native     image.Point
		maxLevel   int
		first      image.Point
		smallest   image.Point
		shouldSave []int
	}{
		{image.Pt(4000, 3000), 6, image.Pt(2016, 1504), image.Pt(63, 47), []int{2, 4, 6}},
		{image.Pt(256, 192), 3, image.Pt(128, 96), image.Pt(32, 24), []int{1, 2}},
		{image.Pt(1024, 1024), 5, image.Pt(512, 512), image.Pt(32, 32), []int{1, 2, 4}},
		{image.Pt(33, 20), 0, image.Pt(17, 10), image.Pt(33, 20), nil},
		{image.Pt(1, 1), 0, image.Pt(1, 1), image.Pt(1, 1), nil},
	}
	for _, tt := range tests {
		l := computeLayout(tt.native, SmallestImage, DefaultThumbnailSizes, nil)
		if l.maxLevel != tt.maxLevel {
			t.Errorf("%v: maxLevel = %d, want %d", tt.native, l.maxLevel, tt.maxLevel)
			continue
		}
		if l.first != tt.first {
			t.Errorf("%v: first = %v, want %v", tt.native, l.first, tt.first)
		}
		if got := l.size(l.maxLevel); got != tt.smallest {
			t.Errorf("%v: size(maxLevel) = %v, want %v", tt.native, got, tt.smallest)
		}
		var saved []int
		for lv, s := range l.shouldSave {
			if s {
				saved = append(saved, lv)
			}
		}
		if !slices.Equal(saved, tt.shouldSave) {
			t.Errorf("%v: shouldSave = %v, want %v", tt.native, saved, tt.shouldSave)
		}
	}
}

func TestLayoutSizesShrink(t *testing.T) {
	for _, native := range []image.Point{
		{4000, 3000}, {3000, 4000}, {1000, 1}, {1, 1000}, {4097, 33}, {65, 65}, {100, 7}, {31, 31},
	} {
		l := computeLayout(native, SmallestImage, DefaultThumbnailSizes, nil)
		if l.size(0) != native {
			t.Errorf("%v: size(0) = %v", native, l.size(0))
		}
		for lv := 1; lv <= l.maxLevel; lv++ {
			prev, cur := l.size(lv-1), l.size(lv)
			if cur.X > prev.X || cur.Y > prev.Y {
				t.Errorf("%v: size(%d) = %v grows from %v", native, lv, cur, prev)
			}
			if cur.X == 0 || cur.Y == 0 {
				t.Errorf("%v: level %d <= maxLevel is empty", native, lv)
			}
		}
		if got := l.size(l.maxLevel + 40); got != (image.Point{}) {
			t.Errorf("%v: size past exhaustion = %v", native, got)
		}
		if got := l.size(-1); got != (image.Point{}) {
			t.Errorf("%v: size(-1) = %v", native, got)
		}
	}
}

func TestOptimalMonotonic(t *testing.T) {
	for _, native := range []image.Point{{4000, 3000}, {256, 192}, {1000, 1}, {33, 20}} {
		l := computeLayout(native, SmallestImage, DefaultThumbnailSizes, nil)
		prev := -1
		for px := float64(2 * max(native.X, native.Y)); px >= 0.5; px *= 0.9 {
			target := Vec2{X: px, Y: px * float64(native.Y) / float64(native.X)}
			got := l.optimal(target)
			if got < 0 || got > l.maxLevel {
				t.Fatalf("%v: optimal(%v) = %d outside [0, %d]", native, target, got, l.maxLevel)
			}
			if got < prev {
				t.Fatalf("%v: optimal(%v) = %d after %d", native, target, got, prev)
			}
			prev = got
		}
	}
}

func TestOptimalEdges(t *testing.T) {
	l := computeLayout(image.Pt(4000, 3000), SmallestImage, DefaultThumbnailSizes, nil)
	tests := []struct {
		target Vec2
		want   int
	}{
		{Vec2{4000, 3000}, 0},
		{Vec2{2016, 10}, 0},
		{Vec2{2000, 1500}, 1},
		{Vec2{1000, 750}, 2},
		{Vec2{250, 187}, 4},
		{Vec2{63, 47}, 6},
		{Vec2{1, 1}, 6},
		{Vec2{0, 0}, 6},
		{Vec2{math.NaN(), 5}, 6},
	}
	for _, tt := range tests {
		if got := l.optimal(tt.target); got != tt.want {
			t.Errorf("optimal(%v) = %d, want %d", tt.target, got, tt.want)
		}
	}
}
