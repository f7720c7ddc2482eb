package encoder

import "image"

// DefaultThreshold is the number of changed pixels above which a delta is
// not worth sending.
const DefaultThreshold = 500

// XOR compares prev and curr in raster order and, if at most threshold pixels
// differ in any channel, returns the per-channel XOR image and the number of
// changed pixels. It returns ok == false as soon as the count exceeds the
// threshold, or when the images differ in size.
func XOR(prev, curr *image.RGBA, threshold int) (delta *image.RGBA, changed int, ok bool) {
	if prev.Rect.Size() != curr.Rect.Size() {
		return nil, 0, false
	}

	w := curr.Rect.Dx()
	h := curr.Rect.Dy()
	delta = image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		po := prev.PixOffset(prev.Rect.Min.X, prev.Rect.Min.Y+y)
		co := curr.PixOffset(curr.Rect.Min.X, curr.Rect.Min.Y+y)
		do := delta.PixOffset(0, y)
		p := prev.Pix[po : po+w*4]
		c := curr.Pix[co : co+w*4]
		d := delta.Pix[do : do+w*4]

		for i := 0; i < len(c); i += 4 {
			d[i] = p[i] ^ c[i]
			d[i+1] = p[i+1] ^ c[i+1]
			d[i+2] = p[i+2] ^ c[i+2]
			d[i+3] = p[i+3] ^ c[i+3]
			if d[i]|d[i+1]|d[i+2]|d[i+3] != 0 {
				changed++
				if changed > threshold {
					return nil, changed, false
				}
			}
		}
	}
	return delta, changed, true
}

// ApplyXOR returns base XOR delta, which reproduces the frame the delta was
// computed against. The inputs are not modified.
func ApplyXOR(base, delta *image.RGBA) (*image.RGBA, bool) {
	if base.Rect.Size() != delta.Rect.Size() {
		return nil, false
	}

	w := base.Rect.Dx()
	h := base.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		bo := base.PixOffset(base.Rect.Min.X, base.Rect.Min.Y+y)
		do := delta.PixOffset(delta.Rect.Min.X, delta.Rect.Min.Y+y)
		oo := out.PixOffset(0, y)
		b := base.Pix[bo : bo+w*4]
		d := delta.Pix[do : do+w*4]
		o := out.Pix[oo : oo+w*4]
		for i := range o {
			o[i] = b[i] ^ d[i]
		}
	}
	return out, true
}
