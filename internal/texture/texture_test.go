package texture

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	teximage "github.com/gogpu/texcache/internal/image"
)

// wholeTexture accepts only whole-texture updates.
type wholeTexture struct {
	w, h    int
	data    []byte
	updates int
}

func (t *wholeTexture) Width() int  { return t.w }
func (t *wholeTexture) Height() int { return t.h }

func (t *wholeTexture) UpdateData(data []byte) error {
	t.data = bytes.Clone(data)
	t.updates++
	return nil
}

type wholeCreator struct {
	created []*wholeTexture
	desc    *gputypes.TextureDescriptor
}

func (c *wholeCreator) NewTextureFromRGBA(w, h int, data []byte) (gpucontext.Texture, error) {
	tex := &wholeTexture{w: w, h: h, data: bytes.Clone(data)}
	c.created = append(c.created, tex)
	return tex, nil
}

// allocWhole allocates from descriptors.
type allocWhole struct{ wholeCreator }

func (c *allocWhole) NewTexture(desc gputypes.TextureDescriptor) (gpucontext.Texture, error) {
	c.desc = &desc
	tex := &wholeTexture{w: int(desc.Size.Width), h: int(desc.Size.Height)}
	c.created = append(c.created, tex)
	return tex, nil
}

func gray(t *testing.T) *teximage.ImageBuf {
	t.Helper()
	img, err := teximage.NewImageBuf(3, 2, teximage.FormatGray8)
	if err != nil {
		t.Fatal(err)
	}
	copy(img.Data(), []byte{1, 2, 3, 4, 5, 6})
	return img
}

func TestCreateWithoutRegions(t *testing.T) {
	img := gray(t)
	c := &wholeCreator{}
	var scratch []byte
	up, n, err := Create(c, "g", img, false, &scratch)
	if err != nil {
		t.Fatal(err)
	}
	// The blank texture cannot be filled by rows, so it is replaced by one
	// created with the pixels.
	if len(c.created) != 2 || n != 3*2*4 {
		t.Fatalf("%d textures, %d bytes", len(c.created), n)
	}
	want := []byte{1, 1, 1, 255, 2, 2, 2, 255, 3, 3, 3, 255, 4, 4, 4, 255, 5, 5, 5, 255, 6, 6, 6, 255}
	if got := up.Tex.(*wholeTexture).data; !bytes.Equal(got, want) {
		t.Errorf("texels %v", got)
	}
	if up.Regional() || up.RowBytes() != 12 {
		t.Errorf("regional %v, row bytes %d", up.Regional(), up.RowBytes())
	}
	if err := up.Write(image.Rect(0, 0, 1, 1), want[:4]); !errors.Is(err, ErrNotWritable) {
		t.Errorf("partial write = %v", err)
	}
}

func TestCreateFromDescriptor(t *testing.T) {
	img := gray(t)
	c := &allocWhole{}
	var scratch []byte
	up, n, err := Create(c, "g", img, true, &scratch)
	if err != nil {
		t.Fatal(err)
	}
	if c.desc == nil || c.desc.Format != gputypes.TextureFormatR8Unorm || c.desc.Size != gputypes.NewExtent2D(3, 2) {
		t.Fatalf("descriptor %+v", c.desc)
	}
	tex := up.Tex.(*wholeTexture)
	if n != 6 || tex.updates != 1 || !bytes.Equal(tex.data, img.Data()) {
		t.Errorf("%d bytes, %d updates, data %v", n, tex.updates, tex.data)
	}
	Destroy(up.Tex)
}
