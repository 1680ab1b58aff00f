package glyph

import (
	"errors"
	"image"
	"math/rand/v2"
	"sync"
	"testing"

	teximage "github.com/gogpu/texcache/internal/image"
)

func grayBox(t *testing.T, w, h int, v uint8) *teximage.ImageBuf {
	t.Helper()
	b, err := teximage.NewImageBuf(w, h, teximage.FormatGray8)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Data() {
		b.Data()[i] = v
	}
	return b
}

func TestShelfAllocator(t *testing.T) {
	a := newShelfAllocator(100, 100, 2)

	x, y, ok := a.allocate(30, 20)
	if !ok || x != 0 || y != 0 {
		t.Fatalf("first = %d,%d,%v", x, y, ok)
	}
	x, y, ok = a.allocate(30, 10)
	if !ok || x != 32 || y != 0 {
		t.Fatalf("same shelf = %d,%d,%v", x, y, ok)
	}
	// Taller item extends the last shelf.
	x, y, ok = a.allocate(30, 25)
	if !ok || x != 64 || y != 0 {
		t.Fatalf("taller = %d,%d,%v", x, y, ok)
	}
	// No horizontal room left: new shelf below the 25 px tall one.
	x, y, ok = a.allocate(40, 10)
	if !ok || x != 0 || y != 27 {
		t.Fatalf("new shelf = %d,%d,%v", x, y, ok)
	}
	if _, _, ok := a.allocate(99, 99); ok {
		t.Error("oversized item allocated")
	}
	if u := a.utilization(); u <= 0 || u >= 1 {
		t.Errorf("utilization %v", u)
	}
}

func TestAtlasConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   AtlasConfig
		field string
	}{
		{"default", DefaultAtlasConfig(), ""},
		{"small", AtlasConfig{PageSize: 32, Padding: 1, MaxPages: 1}, "PageSize"},
		{"huge", AtlasConfig{PageSize: 16384, Padding: 1, MaxPages: 1}, "PageSize"},
		{"not pow2", AtlasConfig{PageSize: 1000, Padding: 1, MaxPages: 1}, "PageSize"},
		{"padding", AtlasConfig{PageSize: 256, Padding: -1, MaxPages: 1}, "Padding"},
		{"pages", AtlasConfig{PageSize: 256, Padding: 1, MaxPages: 0}, "MaxPages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Errorf("Validate = %v, want %s error", err, tt.field)
			}
		})
	}
	if _, err := NewAtlas(AtlasConfig{}, nil); err == nil {
		t.Error("NewAtlas accepted zero config")
	}
}

func TestAtlasNoOverlap(t *testing.T) {
	atlas, err := NewAtlas(AtlasConfig{PageSize: 256, Padding: 1, MaxPages: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	var refs []AtlasRef
	for i := range 200 {
		w, h := 4+rng.IntN(40), 4+rng.IntN(40)
		ref, err := atlas.Insert(grayBox(t, w, h, uint8(i)))
		if errors.Is(err, ErrAtlasFull) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if ref.Rect.Dx() != w || ref.Rect.Dy() != h {
			t.Fatalf("rect %v for %dx%d", ref.Rect, w, h)
		}
		if !ref.Rect.In(image.Rect(0, 0, 256, 256)) {
			t.Fatalf("rect %v outside the page", ref.Rect)
		}
		refs = append(refs, ref)
	}
	if len(refs) < 20 {
		t.Fatalf("only %d inserts", len(refs))
	}
	for i, a := range refs {
		for _, b := range refs[i+1:] {
			if a.Page == b.Page && a.Rect.Overlaps(b.Rect) {
				t.Fatalf("%v and %v overlap on page %d", a.Rect, b.Rect, a.Page)
			}
		}
	}

	// Every pixel of the most recent bitmap landed where its ref says.
	last := refs[len(refs)-1]
	page := atlas.Page(last.Page)
	for y := last.Rect.Min.Y; y < last.Rect.Max.Y; y++ {
		for x := last.Rect.Min.X; x < last.Rect.Max.X; x++ {
			if v, _, _, _ := page.GetRGBA(x, y); v != uint8(len(refs)-1) {
				t.Fatalf("pixel (%d,%d) = %d", x, y, v)
			}
		}
	}
	if u := atlas.Utilization(); u <= 0 || u > 1 {
		t.Errorf("utilization %v", u)
	}
}

func TestAtlasGrowsThenFills(t *testing.T) {
	atlas, err := NewAtlas(AtlasConfig{PageSize: 64, Padding: 0, MaxPages: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 2 {
		ref, err := atlas.Insert(grayBox(t, 64, 64, 1))
		if err != nil {
			t.Fatal(err)
		}
		if ref.Page != i {
			t.Errorf("insert %d on page %d", i, ref.Page)
		}
		if ref.UV != [4]float32{0, 0, 1, 1} {
			t.Errorf("UV %v", ref.UV)
		}
	}
	if _, err := atlas.Insert(grayBox(t, 1, 1, 1)); !errors.Is(err, ErrAtlasFull) {
		t.Errorf("Insert into full atlas = %v", err)
	}
	if atlas.Pages() != 2 {
		t.Errorf("%d pages", atlas.Pages())
	}
	if atlas.Page(2) != nil || atlas.Page(-1) != nil {
		t.Error("Page out of range returned a buffer")
	}
}

func TestAtlasRejects(t *testing.T) {
	atlas, _ := NewAtlas(AtlasConfig{PageSize: 64, Padding: 1, MaxPages: 1}, nil)
	if _, err := atlas.Insert(grayBox(t, 64, 10, 0)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Insert(64 wide + padding) = %v, want ErrTooLarge", err)
	}
	rgba, _ := teximage.NewImageBuf(4, 4, teximage.FormatRGBA8)
	if _, err := atlas.Insert(rgba); !errors.Is(err, ErrBadFormat) {
		t.Errorf("Insert(RGBA) = %v, want ErrBadFormat", err)
	}
	if atlas.Pages() != 0 {
		t.Error("rejected insert added a page")
	}
}

func TestAtlasDirtyGoesThroughQueue(t *testing.T) {
	q := NewQueue()
	atlas, _ := NewAtlas(AtlasConfig{PageSize: 64, Padding: 0, MaxPages: 1}, q)
	var got []image.Rectangle
	atlas.OnDirty(func(page int, r image.Rectangle) {
		if page != 0 {
			t.Errorf("dirty page %d", page)
		}
		got = append(got, r)
	})

	a, _ := atlas.Insert(grayBox(t, 8, 8, 1))
	b, _ := atlas.Insert(grayBox(t, 4, 4, 1))
	if len(got) != 0 {
		t.Fatal("dirty callback ran on the inserting goroutine")
	}
	if q.Len() != 2 {
		t.Fatalf("queue holds %d callbacks", q.Len())
	}
	if n := q.Drain(); n != 2 {
		t.Errorf("Drain = %d", n)
	}
	if len(got) != 2 || got[0] != a.Rect || got[1] != b.Rect {
		t.Errorf("dirty rects %v, want %v %v", got, a.Rect, b.Rect)
	}
	if q.Drain() != 0 {
		t.Error("second Drain ran callbacks again")
	}
}

func TestAtlasConcurrentInsert(t *testing.T) {
	atlas, _ := NewAtlas(AtlasConfig{PageSize: 512, Padding: 1, MaxPages: 4}, nil)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		refs []AtlasRef
	)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				b, _ := teximage.NewImageBuf(10+g, 10+i%5, teximage.FormatGray8)
				ref, err := atlas.Insert(b)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				refs = append(refs, ref)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for i, a := range refs {
		for _, b := range refs[i+1:] {
			if a.Page == b.Page && a.Rect.Overlaps(b.Rect) {
				t.Fatalf("%v and %v overlap", a.Rect, b.Rect)
			}
		}
	}
}
