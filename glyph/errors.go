package glyph

import "errors"

var (
	// ErrAtlasFull is returned by Atlas.Insert once every page is full
	// and no page may be added.
	ErrAtlasFull = errors.New("glyph: atlas full")

	// ErrTooLarge is returned by Atlas.Insert for a bitmap larger than a
	// page.
	ErrTooLarge = errors.New("glyph: bitmap larger than an atlas page")

	// ErrNoOutline is returned by SFNTFace.Outline for glyphs without
	// vector data, such as bitmap or color glyphs.
	ErrNoOutline = errors.New("glyph: no outline")

	// ErrBadFormat is returned when a cached distance field is not a
	// Gray8 image.
	ErrBadFormat = errors.New("glyph: cached distance field has wrong format")

	// ErrReleased is returned by Textures.Page after Release.
	ErrReleased = errors.New("glyph: textures released")
)

// ConfigError reports an invalid atlas or cache setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "glyph: invalid config." + e.Field + ": " + e.Reason
}
