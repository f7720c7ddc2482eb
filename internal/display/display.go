// Package display shows reconstructed frames in a desktop window.
package display

import (
	"image"
	"math"
)

// Display renders frames until the window is closed.
type Display interface {
	SetFrame(img *image.RGBA)
	Run() error
	Close()
}

// aspectFitTransform returns scale and offsets to fit frame into view with letterboxing.
func aspectFitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}
