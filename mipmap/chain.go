package mipmap

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	teximage "github.com/gogpu/texcache/internal/image"
)

// ChainExt is the file suffix of mip-chain containers.
const ChainExt = "gmc"

// A mip-chain container stores every level of one image:
//
//	magic      "GMC1"
//	headerLen  uint32 little endian
//	header     CBOR chainHeader
//	data       zstd frames, one per level, addressed by offset/size
//	           relative to the start of data
const (
	chainVersion   = 1
	chainMaxHeader = 1 << 20
)

var chainMagic = [4]byte{'G', 'M', 'C', '1'}

type chainHeader struct {
	Version int          `cbor:"version"`
	Width   int          `cbor:"width"`
	Height  int          `cbor:"height"`
	Format  uint8        `cbor:"format"`
	Levels  []chainLevel `cbor:"levels"`
}

type chainLevel struct {
	W      int   `cbor:"w"`
	H      int   `cbor:"h"`
	Offset int64 `cbor:"offset"`
	Size   int64 `cbor:"size"`
}

var (
	chainEncMode = sync.OnceValues(func() (cbor.EncMode, error) {
		return cbor.CoreDetEncOptions().EncMode()
	})
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// IsChain reports whether path names a mip-chain container.
func IsChain(path string) bool {
	return strings.EqualFold(strings.TrimPrefix(filepath.Ext(path), "."), ChainExt)
}

// WriteChain writes levels, level 0 first, as a mip-chain container. All
// levels must share one pixel format.
func WriteChain(w io.Writer, levels []*teximage.ImageBuf) error {
	if len(levels) == 0 {
		return fmt.Errorf("mipmap: write chain: no levels")
	}
	enc, err := zstdEncoder()
	if err != nil {
		return fmt.Errorf("mipmap: zstd: %w", err)
	}
	em, err := chainEncMode()
	if err != nil {
		return fmt.Errorf("mipmap: cbor: %w", err)
	}

	format := levels[0].Format()
	hdr := chainHeader{
		Version: chainVersion,
		Width:   levels[0].Width(),
		Height:  levels[0].Height(),
		Format:  uint8(format),
		Levels:  make([]chainLevel, len(levels)),
	}
	frames := make([][]byte, len(levels))
	var offset int64
	for i, lvl := range levels {
		if lvl.Format() != format {
			return fmt.Errorf("mipmap: write chain: level %d is %v, want %v", i, lvl.Format(), format)
		}
		frames[i] = enc.EncodeAll(lvl.Data(), nil)
		hdr.Levels[i] = chainLevel{W: lvl.Width(), H: lvl.Height(), Offset: offset, Size: int64(len(frames[i]))}
		offset += int64(len(frames[i]))
	}

	head, err := em.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("mipmap: cbor: %w", err)
	}
	var prefix [8]byte
	copy(prefix[:4], chainMagic[:])
	binary.LittleEndian.PutUint32(prefix[4:], uint32(len(head)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(head); err != nil {
		return err
	}
	for _, f := range frames {
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// Chain is an opened mip-chain container. Only the header is read up
// front; levels are decompressed on demand.
type Chain struct {
	path      string
	hdr       chainHeader
	dataStart int64
}

// OpenChain reads and validates the header of the container at path.
func OpenChain(path string) (*Chain, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var prefix [8]byte
	if _, err := io.ReadFull(f, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChain, err)
	}
	if [4]byte(prefix[:4]) != chainMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptChain)
	}
	n := binary.LittleEndian.Uint32(prefix[4:])
	if n == 0 || n > chainMaxHeader {
		return nil, fmt.Errorf("%w: header length %d", ErrCorruptChain, n)
	}
	head := make([]byte, n)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptChain, err)
	}

	c := &Chain{path: path, dataStart: int64(len(prefix)) + int64(n)}
	if err := cbor.Unmarshal(head, &c.hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChain, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) validate() error {
	h := c.hdr
	switch {
	case h.Version != chainVersion:
		return fmt.Errorf("%w: version %d", ErrCorruptChain, h.Version)
	case len(h.Levels) == 0:
		return fmt.Errorf("%w: no levels", ErrCorruptChain)
	case !teximage.Format(h.Format).IsValid():
		return fmt.Errorf("%w: format %d", ErrCorruptChain, h.Format)
	case h.Levels[0].W != h.Width || h.Levels[0].H != h.Height:
		return fmt.Errorf("%w: level 0 is %dx%d, image is %dx%d", ErrCorruptChain,
			h.Levels[0].W, h.Levels[0].H, h.Width, h.Height)
	}
	for i, l := range h.Levels {
		if l.W <= 0 || l.H <= 0 || l.Offset < 0 || l.Size <= 0 {
			return fmt.Errorf("%w: level %d entry %+v", ErrCorruptChain, i, l)
		}
	}
	return nil
}

// Len returns the number of stored levels.
func (c *Chain) Len() int { return len(c.hdr.Levels) }

// Size returns the level 0 dimensions.
func (c *Chain) Size() image.Point { return image.Pt(c.hdr.Width, c.hdr.Height) }

// LevelSize returns the dimensions of level i, or the zero point when i
// is out of range.
func (c *Chain) LevelSize(i int) image.Point {
	if i < 0 || i >= len(c.hdr.Levels) {
		return image.Point{}
	}
	return image.Pt(c.hdr.Levels[i].W, c.hdr.Levels[i].H)
}

// Format returns the pixel format shared by all levels.
func (c *Chain) Format() teximage.Format { return teximage.Format(c.hdr.Format) }

// Level decompresses level i into a pooled buffer.
func (c *Chain) Level(i int) (*teximage.ImageBuf, error) {
	if i < 0 || i >= len(c.hdr.Levels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLevelRange, i, len(c.hdr.Levels))
	}
	entry := c.hdr.Levels[i]

	f, err := os.Open(filepath.Clean(c.path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	frame := make([]byte, entry.Size)
	if _, err := f.ReadAt(frame, c.dataStart+entry.Offset); err != nil {
		return nil, fmt.Errorf("%w: level %d: %v", ErrCorruptChain, i, err)
	}
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("mipmap: zstd: %w", err)
	}
	raw, err := dec.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: level %d: %v", ErrCorruptChain, i, err)
	}

	buf, err := teximage.Get(entry.W, entry.H, c.Format())
	if err != nil {
		return nil, err
	}
	if len(raw) != buf.ByteSize() {
		teximage.Put(buf)
		return nil, fmt.Errorf("%w: level %d has %d bytes, want %d", ErrCorruptChain, i, len(raw), buf.ByteSize())
	}
	copy(buf.Data(), raw)
	return buf, nil
}
