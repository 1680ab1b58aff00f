package glyph

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-text/typesetting/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// GlyphIndex is a glyph id within one font.
type GlyphIndex uint16

func (g GlyphIndex) String() string { return strconv.Itoa(int(g)) }

// Identity names a font face as "<weight>/<style>/<family>/<styleName>",
// for example "400/normal/Go/Regular".
type Identity string

// NewIdentity builds an Identity from its parts.
func NewIdentity(weight int, italic bool, family, styleName string) Identity {
	style := "normal"
	if italic {
		style = "italic"
	}
	return Identity(fmt.Sprintf("%d/%s/%s/%s", weight, style, family, styleName))
}

// Face is a font the cache can build distance fields for.
type Face interface {
	Identity() Identity
	UnitsPerEm() int
	// Outline returns the outline of gid scaled to ppem pixels per em,
	// in y-down pixel coordinates relative to the glyph origin. Glyphs
	// without ink, such as spaces, have an empty outline.
	Outline(gid GlyphIndex, ppem float64) (Outline, error)
}

// SegmentOp is a path command.
type SegmentOp uint8

const (
	MoveTo SegmentOp = iota
	LineTo
	QuadTo
	CubeTo
)

// Point is a position in pixels.
type Point struct {
	X, Y float32
}

// Segment is one path command. MoveTo and LineTo use Args[0], QuadTo
// Args[0:2] and CubeTo all three.
type Segment struct {
	Op   SegmentOp
	Args [3]Point
}

// Outline is a closed glyph path.
type Outline struct {
	Segments []Segment
}

// Empty reports whether the outline has nothing to draw.
func (o Outline) Empty() bool {
	for _, s := range o.Segments {
		if s.Op != MoveTo {
			return false
		}
	}
	return true
}

// Bounds returns the bounding box of all points, control points
// included.
func (o Outline) Bounds() (lo, hi Point) {
	first := true
	for _, s := range o.Segments {
		n := 1
		switch s.Op {
		case QuadTo:
			n = 2
		case CubeTo:
			n = 3
		}
		for _, p := range s.Args[:n] {
			if first {
				lo, hi, first = p, p, false
				continue
			}
			lo.X, lo.Y = min(lo.X, p.X), min(lo.Y, p.Y)
			hi.X, hi.Y = max(hi.X, p.X), max(hi.Y, p.Y)
		}
	}
	return lo, hi
}

// SFNTFace is a Face backed by a TrueType or OpenType font. It is safe
// for concurrent use.
type SFNTFace struct {
	font       *sfnt.Font
	identity   Identity
	unitsPerEm int
}

// NewSFNTFace parses font data. The identity comes from the font's
// description (family, weight and style) and its subfamily name.
func NewSFNTFace(data []byte) (*SFNTFace, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("glyph: parse font: %w", err)
	}
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("glyph: describe font: %w", err)
	}
	desc := face.Describe()

	styleName, err := f.Name(nil, sfnt.NameIDSubfamily)
	if err != nil || styleName == "" {
		styleName = "Regular"
	}
	family := desc.Family
	if family == "" {
		family, _ = f.Name(nil, sfnt.NameIDFamily)
	}

	return &SFNTFace{
		font:       f,
		identity:   NewIdentity(int(desc.Aspect.Weight), desc.Aspect.Style == font.StyleItalic, family, styleName),
		unitsPerEm: int(f.UnitsPerEm()),
	}, nil
}

func (f *SFNTFace) Identity() Identity { return f.identity }

func (f *SFNTFace) UnitsPerEm() int { return f.unitsPerEm }

// Index returns the glyph for r, or 0 (.notdef) if the font lacks it.
func (f *SFNTFace) Index(r rune) GlyphIndex {
	var buf sfnt.Buffer
	gid, err := f.font.GlyphIndex(&buf, r)
	if err != nil {
		return 0
	}
	return GlyphIndex(gid)
}

func (f *SFNTFace) Outline(gid GlyphIndex, ppem float64) (Outline, error) {
	var buf sfnt.Buffer
	segs, err := f.font.LoadGlyph(&buf, sfnt.GlyphIndex(gid), fixed.Int26_6(ppem*64), nil)
	if err != nil {
		if errors.Is(err, sfnt.ErrColoredGlyph) {
			return Outline{}, fmt.Errorf("%w: glyph %d", ErrNoOutline, gid)
		}
		return Outline{}, fmt.Errorf("glyph: load glyph %d: %w", gid, err)
	}
	out := Outline{Segments: make([]Segment, len(segs))}
	for i, s := range segs {
		var op SegmentOp
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			op = MoveTo
		case sfnt.SegmentOpLineTo:
			op = LineTo
		case sfnt.SegmentOpQuadTo:
			op = QuadTo
		case sfnt.SegmentOpCubeTo:
			op = CubeTo
		}
		out.Segments[i].Op = op
		for j, p := range s.Args {
			out.Segments[i].Args[j] = Point{X: float32(p.X) / 64, Y: float32(p.Y) / 64}
		}
	}
	return out, nil
}
