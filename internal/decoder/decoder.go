// Package decoder rebuilds frames on the viewer from full and delta payloads.
package decoder

import "image"

// Decoder decodes bytes into an image.
type Decoder interface {
	Decode(data []byte) (*image.RGBA, error)
}
