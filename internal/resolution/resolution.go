// Package resolution holds the output resolution shared between the viewer
// side (which requests sizes) and the delta processor (which adopts them).
package resolution

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidWindowCount is returned when a resolution is requested for zero
// viewer windows.
var ErrInvalidWindowCount = errors.New("viewer window count must be positive")

// Resolution is an output size in pixels.
type Resolution struct {
	Width  uint32
	Height uint32
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// IsZero reports whether either dimension is zero.
func (r Resolution) IsZero() bool {
	return r.Width == 0 || r.Height == 0
}

// Divide splits r evenly across windows, never going below one pixel.
func (r Resolution) Divide(windows uint32) Resolution {
	if windows == 0 {
		return r
	}
	return Resolution{
		Width:  max(r.Width/windows, 1),
		Height: max(r.Height/windows, 1),
	}
}

// Controller guards the native, current and requested resolutions with one
// lock so width and height are never observed from different updates.
//
// current is written only by the processor (Init and Sync). requested may be
// written by any goroutine; the last write wins.
type Controller struct {
	mu        sync.Mutex
	native    Resolution
	current   Resolution
	requested Resolution
	windows   uint32
}

// NewController returns a controller with no native size yet.
func NewController() *Controller {
	return &Controller{}
}

// Init records the native capture size and makes current equal to the
// requested size, defaulting to native when no window count was recorded.
func (c *Controller) Init(native Resolution) Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.native = native
	if c.windows > 0 {
		c.requested = native.Divide(c.windows)
	} else {
		c.requested = native
	}
	c.current = c.requested
	return c.current
}

// Request sets the requested resolution to native divided by windows.
// A request made before Init is remembered and applied by Init.
func (c *Controller) Request(windows uint32) error {
	if windows == 0 {
		return ErrInvalidWindowCount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.windows = windows
	if !c.native.IsZero() {
		c.requested = c.native.Divide(windows)
	}
	return nil
}

// Sync adopts the requested resolution if it differs from current and
// reports whether it changed.
func (c *Controller) Sync() (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requested == c.current {
		return c.current, false
	}
	c.current = c.requested
	return c.current, true
}

// Current returns the resolution in effect.
func (c *Controller) Current() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Requested returns the latest requested resolution.
func (c *Controller) Requested() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// Native returns the captured size recorded by Init.
func (c *Controller) Native() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native
}
