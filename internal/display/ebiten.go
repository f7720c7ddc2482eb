package display

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// EbitenDisplay renders the remote screen using Ebitengine. Tab toggles a
// status overlay; Escape closes the window.
type EbitenDisplay struct {
	title string

	mu     sync.Mutex
	frame  *image.RGBA
	frames int
	dirty  bool

	ebitenImage *ebiten.Image
	overlay     bool
	closed      atomic.Bool
}

// NewEbitenDisplay creates an Ebitengine-based display.
func NewEbitenDisplay(title string) *EbitenDisplay {
	return &EbitenDisplay{title: title}
}

// SetFrame replaces the displayed frame. It is safe to call from any
// goroutine; img must not be modified afterwards.
func (d *EbitenDisplay) SetFrame(img *image.RGBA) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = img
	d.frames++
	d.dirty = true
}

// Close ends Run at the next tick.
func (d *EbitenDisplay) Close() {
	d.closed.Store(true)
}

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (d *EbitenDisplay) Run() error {
	ebiten.SetWindowSize(1280, 720)
	ebiten.SetWindowTitle(d.title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	return ebiten.RunGame(d)
}

// --- ebiten.Game interface ---

func (d *EbitenDisplay) Update() error {
	if d.closed.Load() || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		d.overlay = !d.overlay
	}
	return nil
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	d.mu.Lock()
	frame, frames, dirty := d.frame, d.frames, d.dirty
	d.dirty = false
	d.mu.Unlock()

	if frame == nil {
		ebitenutil.DebugPrint(screen, "waiting for host...")
		return
	}

	fw, fh := frame.Rect.Dx(), frame.Rect.Dy()
	if d.ebitenImage == nil || d.ebitenImage.Bounds().Dx() != fw || d.ebitenImage.Bounds().Dy() != fh {
		d.ebitenImage = ebiten.NewImage(fw, fh)
		dirty = true
	}
	if dirty {
		d.ebitenImage.WritePixels(frame.Pix)
	}

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), float64(fw), float64(fh))

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(offsetX, offsetY)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(d.ebitenImage, op)

	if d.overlay {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("%dx%d  frames %d  tps %.0f", fw, fh, frames, ebiten.ActualTPS()))
	}
}

func (d *EbitenDisplay) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}
