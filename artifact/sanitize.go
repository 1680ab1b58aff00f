package artifact

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// GlyphsDir is the subdirectory holding glyph artifacts and their index.
const GlyphsDir = "glyphs"

// GlyphRoot returns <root>/glyphs.
func (s *Store) GlyphRoot() string {
	return filepath.Join(s.root, GlyphsDir)
}

// GlyphDir returns the directory for one font's distance fields.
func (s *Store) GlyphDir(identity string) string {
	return filepath.Join(s.GlyphRoot(), Sanitize(identity))
}

// Sanitize turns an arbitrary identity string into a portable directory
// name. Accents are stripped through NFKD decomposition, path separators
// become '-', and anything else outside [A-Za-z0-9._-] becomes '_'.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		case r == '/' || r == '\\':
			b.WriteByte('-')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
