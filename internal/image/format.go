// Package image holds the CPU-side pixel buffers used by the mipmap and
// glyph caches, together with the decode, resize and artifact codecs that
// operate on them.
package image

// Format describes how pixels are laid out in an ImageBuf.
type Format uint8

const (
	// FormatGray8 is one byte per pixel. Used for glyph distance fields.
	FormatGray8 Format = iota

	// FormatRGBA8 is four bytes per pixel in R, G, B, A order, straight
	// (non-premultiplied) alpha. All decoded sources end up here.
	FormatRGBA8

	formatCount
)

type formatInfo struct {
	name          string
	bytesPerPixel int
	hasAlpha      bool
}

var formatInfoTable = [formatCount]formatInfo{
	FormatGray8: {name: "Gray8", bytesPerPixel: 1},
	FormatRGBA8: {name: "RGBA8", bytesPerPixel: 4, hasAlpha: true},
}

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	return f < formatCount
}

// String returns the format name.
func (f Format) String() string {
	if !f.IsValid() {
		return "Unknown"
	}
	return formatInfoTable[f].name
}

// BytesPerPixel returns the size of one pixel, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	if !f.IsValid() {
		return 0
	}
	return formatInfoTable[f].bytesPerPixel
}


// HasAlpha reports whether the format carries an alpha channel.
func (f Format) HasAlpha() bool {
	if !f.IsValid() {
		return false
	}
	return formatInfoTable[f].hasAlpha
}

// RowBytes returns the tightly packed size of a row of width pixels.
func (f Format) RowBytes(width int) int {
	return width * f.BytesPerPixel()
}
