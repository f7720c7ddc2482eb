package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAspectFitTransform(t *testing.T) {
	tests := []struct {
		name              string
		viewW, viewH      float64
		frameW, frameH    float64
		scale, offX, offY float64
	}{
		{"exact", 1280, 720, 1280, 720, 1, 0, 0},
		{"half size frame", 1280, 720, 640, 360, 2, 0, 0},
		{"pillarbox", 1280, 720, 720, 720, 1, 280, 0},
		{"letterbox", 1280, 1280, 1280, 640, 1, 0, 320},
		{"shrink", 640, 360, 1280, 720, 0.5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scale, x, y := aspectFitTransform(tt.viewW, tt.viewH, tt.frameW, tt.frameH)
			assert.InDelta(t, tt.scale, scale, 1e-9)
			assert.InDelta(t, tt.offX, x, 1e-9)
			assert.InDelta(t, tt.offY, y, 1e-9)
		})
	}
}
