package capture

import (
	"errors"
	"image"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start on a running producer.
	ErrAlreadyRunning = errors.New("capture: already running")
	// ErrNotRunning is returned by Stop on an idle producer. It indicates a
	// caller bug.
	ErrNotRunning = errors.New("capture: not running")
	// ErrNoFrame is returned by a Source that had nothing to capture.
	ErrNoFrame = errors.New("capture: no frame available")
)

// Frame represents a captured screen frame. The image uses 4 bytes per pixel
// (RGBA) and its Stride may exceed 4*width. A Frame is not modified after
// capture.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Source grabs a single frame on demand. Errors are treated as transient.
type Source interface {
	Capture() (*Frame, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*Frame, error)

// Capture calls f.
func (f SourceFunc) Capture() (*Frame, error) { return f() }
