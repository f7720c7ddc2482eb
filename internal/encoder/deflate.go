package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"sync"

	"github.com/klauspost/compress/flate"
)

// HeaderSize is the length of the raw image header: width and height as
// big-endian uint32.
const HeaderSize = 8

// DeflateEncoder serializes an image as header plus tightly packed RGBA rows
// and compresses it with deflate. It is lossless, so XOR deltas survive the
// round trip bit for bit.
type DeflateEncoder struct {
	level   int
	writers sync.Pool
}

// NewDeflateEncoder creates an encoder at the given flate level. Levels outside
// [flate.HuffmanOnly, flate.BestCompression] fall back to flate.BestSpeed.
func NewDeflateEncoder(level int) *DeflateEncoder {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.BestSpeed
	}
	return &DeflateEncoder{level: level}
}

func (e *DeflateEncoder) Encode(img *image.RGBA) ([]byte, error) {
	w := img.Rect.Dx()
	h := img.Rect.Dy()

	var buf bytes.Buffer
	buf.Grow(w * h) // rough guess, screens compress well

	fw, err := e.writer(&buf)
	if err != nil {
		return nil, err
	}
	defer e.writers.Put(fw)

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(w))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(h))
	if _, err := fw.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	rowLen := w * 4
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		if _, err := fw.Write(img.Pix[off : off+rowLen]); err != nil {
			return nil, fmt.Errorf("write row %d: %w", y, err)
		}
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("flush deflate: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *DeflateEncoder) writer(buf *bytes.Buffer) (*flate.Writer, error) {
	if fw, ok := e.writers.Get().(*flate.Writer); ok {
		fw.Reset(buf)
		return fw, nil
	}
	return flate.NewWriter(buf, e.level)
}
