package capture

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// PatternSource produces a synthetic screen: a static gradient with a small
// square that moves a few pixels per capture. Consecutive frames differ in a
// handful of pixels, which is what a mostly idle desktop looks like.
type PatternSource struct {
	width, height int
	block         int

	// FailEvery makes every n-th capture fail. Zero never fails.
	FailEvery int

	mu    sync.Mutex
	count int
	bg    *image.RGBA
}

// NewPatternSource creates a width x height synthetic source.
func NewPatternSource(width, height int) (*PatternSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pattern size must be positive, got %dx%d", width, height)
	}

	bg := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			bg.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(width-1, 1)),
				G: uint8(y * 255 / max(height-1, 1)),
				B: 0x60,
				A: 0xff,
			})
		}
	}

	return &PatternSource{
		width:  width,
		height: height,
		block:  max(min(width, height)/16, 2),
		bg:     bg,
	}, nil
}

// Capture returns the next synthetic frame.
func (s *PatternSource) Capture() (*Frame, error) {
	s.mu.Lock()
	s.count++
	n := s.count
	s.mu.Unlock()

	if s.FailEvery > 0 && n%s.FailEvery == 0 {
		return nil, fmt.Errorf("synthetic failure on capture %d", n)
	}

	img := image.NewRGBA(s.bg.Rect)
	copy(img.Pix, s.bg.Pix)

	span := max(s.width-s.block, 1)
	x0 := (n * 2) % span
	y0 := (s.height - s.block) / 2
	for y := y0; y < y0+s.block; y++ {
		for x := x0; x < x0+s.block; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
		}
	}

	return &Frame{Image: img, Timestamp: time.Now()}, nil
}
