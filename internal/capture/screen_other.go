//go:build !darwin

package capture

import (
	"errors"
	"runtime"
)

// ErrUnsupportedPlatform is returned when no display source exists for the
// running OS.
var ErrUnsupportedPlatform = errors.New("screen capture is not supported on " + runtime.GOOS)

// NewScreenSource returns the platform display source.
func NewScreenSource(displayIndex int) (Source, error) {
	return nil, ErrUnsupportedPlatform
}
