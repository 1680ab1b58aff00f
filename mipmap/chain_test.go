package mipmap

import (
	"bytes"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/texcache/artifact"
	teximage "github.com/gogpu/texcache/internal/image"
)

func chainLevels(t *testing.T, sizes ...image.Point) []*teximage.ImageBuf {
	t.Helper()
	levels := make([]*teximage.ImageBuf, len(sizes))
	for i, sz := range sizes {
		b, err := teximage.NewImageBuf(sz.X, sz.Y, teximage.FormatRGBA8)
		if err != nil {
			t.Fatal(err)
		}
		for y := range sz.Y {
			for x := range sz.X {
				b.SetRGBA(x, y, uint8(x+i), uint8(y), uint8(i), 255)
			}
		}
		levels[i] = b
	}
	return levels
}

func writeChainFile(t *testing.T, path string, levels []*teximage.ImageBuf) {
	t.Helper()
	if err := artifact.WriteFile(path, func(w io.Writer) error {
		return WriteChain(w, levels)
	}); err != nil {
		t.Fatal(err)
	}
}

func TestChainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tex.gmc")
	levels := chainLevels(t, image.Pt(100, 60), image.Pt(50, 30), image.Pt(25, 15))
	writeChainFile(t, path, levels)

	c, err := OpenChain(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 || c.Size() != image.Pt(100, 60) || c.Format() != teximage.FormatRGBA8 {
		t.Fatalf("header: len %d size %v format %v", c.Len(), c.Size(), c.Format())
	}
	for i, want := range levels {
		if got := c.LevelSize(i); got != want.Size() {
			t.Errorf("LevelSize(%d) = %v, want %v", i, got, want.Size())
		}
		got, err := c.Level(i)
		if err != nil {
			t.Fatalf("Level(%d): %v", i, err)
		}
		if !bytes.Equal(got.Data(), want.Data()) {
			t.Errorf("level %d pixels differ", i)
		}
		teximage.Put(got)
	}
	if _, err := c.Level(3); !errors.Is(err, ErrLevelRange) {
		t.Errorf("Level(3) = %v, want ErrLevelRange", err)
	}
	if got := c.LevelSize(7); got != (image.Point{}) {
		t.Errorf("LevelSize(7) = %v", got)
	}
}

func TestOpenChainRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	tests := map[string][]byte{
		"empty":     nil,
		"magic":     []byte("GMC2\x04\x00\x00\x00abcd"),
		"huge":      []byte("GMC1\xff\xff\xff\xff"),
		"truncated": []byte("GMC1\x10\x00\x00\x00ab"),
		"notcbor":   []byte("GMC1\x02\x00\x00\x00\xff\xff"),
	}
	for name, data := range tests {
		path := filepath.Join(dir, name+".gmc")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := OpenChain(path); !errors.Is(err, ErrCorruptChain) {
			t.Errorf("%s: OpenChain = %v, want ErrCorruptChain", name, err)
		}
	}
}

func TestWriteChainMixedFormats(t *testing.T) {
	levels := chainLevels(t, image.Pt(4, 4))
	gray, _ := teximage.NewImageBuf(2, 2, teximage.FormatGray8)
	if err := WriteChain(io.Discard, append(levels, gray)); err == nil {
		t.Error("mixed formats accepted")
	}
	if err := WriteChain(io.Discard, nil); err == nil {
		t.Error("empty chain accepted")
	}
}

func TestIsChain(t *testing.T) {
	for path, want := range map[string]bool{
		"a.gmc":     true,
		"dir/B.GMC": true,
		"a.png":     false,
		"gmc":       false,
	} {
		if got := IsChain(path); got != want {
			t.Errorf("IsChain(%q) = %v", path, got)
		}
	}
}

func TestStackOnChainSource(t *testing.T) {
	f := newFixture(t)
	src := f.path("tex.gmc")
	writeChainFile(t, src, chainLevels(t, image.Pt(256, 128), image.Pt(128, 64)))

	s := f.stack(t, src)
	if err := s.StartLoading(false); err != nil {
		t.Fatal(err)
	}
	// The image is large enough for three levels but the file has two.
	if got := s.MaxLevel(); got != 1 {
		t.Fatalf("MaxLevel = %d, want 1", got)
	}
	if got := s.FirstLevelSize(); got != image.Pt(128, 64) {
		t.Errorf("FirstLevelSize = %v", got)
	}
	if !s.Compressed() {
		t.Error("chain source not compressed")
	}
	if st := s.Level(1).State; st != Ready {
		t.Errorf("pinned level %v, want warm start from the chain", st)
	}
	if err := s.Load(0); err != nil {
		t.Fatal(err)
	}
	r, g, b, a := s.Level(0).Payload.Image().GetRGBA(5, 7)
	if r != 5 || g != 7 || b != 0 || a != 255 {
		t.Errorf("pixel = %d,%d,%d,%d", r, g, b, a)
	}
}
