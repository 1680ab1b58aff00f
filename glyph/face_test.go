package glyph

import (
	"strings"
	"testing"

	"golang.org/x/image/font/gofont/gobolditalic"
)

func TestSFNTFaceIdentity(t *testing.T) {
	if got := goRegular(t).Identity(); got != "400/normal/Go/Regular" {
		t.Errorf("Identity = %q", got)
	}
	bi, err := NewSFNTFace(gobolditalic.TTF)
	if err != nil {
		t.Fatal(err)
	}
	if id := string(bi.Identity()); !strings.HasPrefix(id, "700/italic/Go/") {
		t.Errorf("bold italic Identity = %q", id)
	}
}

func TestNewIdentity(t *testing.T) {
	if got := NewIdentity(300, true, "Noto Sans", "Light Italic"); got != "300/italic/Noto Sans/Light Italic" {
		t.Errorf("NewIdentity = %q", got)
	}
}

func TestSFNTFaceOutline(t *testing.T) {
	face := goRegular(t)
	if face.UnitsPerEm() != 2048 {
		t.Errorf("UnitsPerEm = %d", face.UnitsPerEm())
	}

	a := face.Index('A')
	if a == 0 {
		t.Fatal("no glyph for A")
	}
	small, err := face.Outline(a, 16)
	if err != nil {
		t.Fatal(err)
	}
	big, err := face.Outline(a, 64)
	if err != nil {
		t.Fatal(err)
	}
	if small.Empty() || big.Empty() {
		t.Fatal("A has an empty outline")
	}
	_, hiS := small.Bounds()
	loB, hiB := big.Bounds()
	if hiB.X < 3*hiS.X {
		t.Errorf("outline does not scale with ppem: %v vs %v", hiB, hiS)
	}
	// y grows downwards: the apex of A is above the baseline.
	if loB.Y >= 0 {
		t.Errorf("top of A at y=%v, want negative", loB.Y)
	}

	space, err := face.Outline(face.Index(' '), 64)
	if err != nil {
		t.Fatal(err)
	}
	if !space.Empty() {
		t.Error("space has ink")
	}
	if face.Index('\U0010FFFD') != 0 {
		t.Error("private use rune mapped to a glyph")
	}
}

func TestNewSFNTFaceRejectsGarbage(t *testing.T) {
	if _, err := NewSFNTFace([]byte("not a font")); err == nil {
		t.Error("garbage parsed as a font")
	}
}

func TestOutlineEmpty(t *testing.T) {
	if !(Outline{}).Empty() {
		t.Error("zero outline not empty")
	}
	moves := Outline{Segments: []Segment{{Op: MoveTo}, {Op: MoveTo}}}
	if !moves.Empty() {
		t.Error("move-only outline not empty")
	}
	if square(0, 1).Empty() {
		t.Error("square is empty")
	}
	lo, hi := square(2, 5).Bounds()
	if lo != (Point{2, 2}) || hi != (Point{5, 5}) {
		t.Errorf("Bounds = %v %v", lo, hi)
	}
}
