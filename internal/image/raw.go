package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// RawExt is the file suffix of the private raster format.
const RawExt = "gimg"

// Layout of a .gimg file:
//
//	magic   [4]byte "GIMG"
//	version uint8
//	format  uint8
//	flags   uint8   bit 0: payload is an lz4 block
//	_       uint8
//	width   uint32
//	height  uint32
//	length  uint32  payload bytes that follow
//	payload
const (
	rawVersion    = 1
	rawHeaderSize = 20
	rawFlagLZ4    = 1 << 0

	// Sanity cap on decoded pixel data.
	rawMaxBytes = 1 << 30
)

var rawMagic = [4]byte{'G', 'I', 'M', 'G'}

// ErrBadRaw reports a .gimg stream that cannot be decoded.
var ErrBadRaw = errors.New("image: malformed raw image")

// EncodeRaw writes b in the private raster format. Pixel data is lz4
// block compressed unless that would not make it smaller.
func EncodeRaw(w io.Writer, b *ImageBuf) error {
	src := b.packed()
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return fmt.Errorf("image: lz4: %w", err)
	}

	var flags byte
	payload := src
	if n > 0 && n < len(src) {
		flags |= rawFlagLZ4
		payload = dst[:n]
	}

	var hdr [rawHeaderSize]byte
	copy(hdr[0:4], rawMagic[:])
	hdr[4] = rawVersion
	hdr[5] = byte(b.format)
	hdr[6] = flags
	binary.LittleEndian.PutUint32(hdr[8:], uint32(b.width))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(b.height))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// DecodeRaw reads an image written by EncodeRaw. The buffer comes from
// the shared pool.
func DecodeRaw(r io.Reader) (*ImageBuf, error) {
	var hdr [rawHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadRaw, err)
	}
	if [4]byte(hdr[0:4]) != rawMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadRaw)
	}
	if hdr[4] != rawVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadRaw, hdr[4])
	}
	format := Format(hdr[5])
	flags := hdr[6]
	width := int(binary.LittleEndian.Uint32(hdr[8:]))
	height := int(binary.LittleEndian.Uint32(hdr[12:]))
	length := int(binary.LittleEndian.Uint32(hdr[16:]))

	if !format.IsValid() || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d %v", ErrBadRaw, width, height, format)
	}
	size := format.RowBytes(width) * height
	if size > rawMaxBytes || length > rawMaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadRaw, size)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadRaw, err)
	}

	if flags&rawFlagLZ4 == 0 {
		if length != size {
			return nil, fmt.Errorf("%w: payload %d, want %d", ErrBadRaw, length, size)
		}
		return FromRaw(payload, width, height, format)
	}

	buf, err := Get(width, height, format)
	if err != nil {
		return nil, err
	}
	n, err := lz4.UncompressBlock(payload, buf.data)
	if err != nil || n != size {
		Put(buf)
		return nil, fmt.Errorf("%w: lz4 block (%d of %d bytes): %v", ErrBadRaw, n, size, err)
	}
	return buf, nil
}

// LoadRaw decodes the .gimg file at path.
func LoadRaw(path string) (*ImageBuf, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeRaw(f)
}

// packed returns the pixels without row padding.
func (b *ImageBuf) packed() []byte {
	rowBytes := b.format.RowBytes(b.width)
	if rowBytes == b.stride {
		return b.data
	}
	out := make([]byte, 0, rowBytes*b.height)
	for y := range b.height {
		out = append(out, b.RowBytes(y)...)
	}
	return out
}
