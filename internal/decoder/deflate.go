package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/junsooki/airshare/internal/encoder"
)

// MaxDimension bounds decoded frame sizes so a corrupt header cannot make
// the viewer allocate unbounded memory.
const MaxDimension = 16384

// DeflateDecoder reverses encoder.DeflateEncoder.
type DeflateDecoder struct{}

func NewDeflateDecoder() *DeflateDecoder {
	return &DeflateDecoder{}
}

func (d *DeflateDecoder) Decode(data []byte) (*image.RGBA, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	var hdr [encoder.HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	w := binary.BigEndian.Uint32(hdr[0:4])
	h := binary.BigEndian.Uint32(hdr[4:8])
	if w == 0 || h == 0 || w > MaxDimension || h > MaxDimension {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	if _, err := io.ReadFull(r, img.Pix); err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}
	return img, nil
}
