package decoder

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/junsooki/airshare/internal/encoder"
)

// ErrNoBase is returned when a delta arrives before any full frame, or when
// its size does not match the last reconstructed frame. The viewer waits for
// the next full frame.
var ErrNoBase = errors.New("delta without matching base frame")

// Reconstructor applies wire payloads in arrival order and keeps the last
// rebuilt frame as the base for the next delta.
type Reconstructor struct {
	dec Decoder

	mu   sync.Mutex
	last *image.RGBA
}

// NewReconstructor creates a reconstructor using dec for the image bytes.
func NewReconstructor(dec Decoder) *Reconstructor {
	return &Reconstructor{dec: dec}
}

// Apply decodes one wire payload and returns the resulting frame.
func (r *Reconstructor) Apply(wire []byte) (*image.RGBA, encoder.Mode, error) {
	p, err := encoder.Unmarshal(wire)
	if err != nil {
		return nil, 0, err
	}

	img, err := r.dec.Decode(p.Data)
	if err != nil {
		return nil, p.Mode, fmt.Errorf("decode %s frame: %w", p.Mode, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Mode == encoder.FullFrame {
		r.last = img
		return img, p.Mode, nil
	}

	if r.last == nil {
		return nil, p.Mode, ErrNoBase
	}
	next, ok := encoder.ApplyXOR(r.last, img)
	if !ok {
		return nil, p.Mode, ErrNoBase
	}
	r.last = next
	return next, p.Mode, nil
}

// Last returns the most recent reconstructed frame, or nil.
func (r *Reconstructor) Last() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Reset forgets the base frame.
func (r *Reconstructor) Reset() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}
