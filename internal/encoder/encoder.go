// Package encoder turns processed frames into compressed, mode-tagged
// payloads for the transport.
package encoder

import (
	"errors"
	"fmt"
	"image"
)

// Encoder encodes an image into bytes.
type Encoder interface {
	Encode(img *image.RGBA) ([]byte, error)
}

// Mode tells the receiver how to apply a payload.
type Mode uint8

const (
	// FullFrame payloads replace the receiver's frame.
	FullFrame Mode = iota
	// DeltaFrame payloads are XORed against the receiver's previous frame.
	DeltaFrame
)

// Trailing wire markers.
const (
	fullMarker  = '1'
	deltaMarker = '0'
)

// ErrShortPayload is returned for wire data without room for a marker.
var ErrShortPayload = errors.New("payload too short")

func (m Mode) String() string {
	switch m {
	case FullFrame:
		return "full"
	case DeltaFrame:
		return "delta"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Payload is one processed frame. Data is the compressed image; it is not
// modified after creation.
//
// Seq numbers payloads from one producer starting at 1. A delta's Base is the
// Seq it was computed against; a full frame has Base 0. Neither is part of the
// wire form.
type Payload struct {
	Data []byte
	Mode Mode
	Seq  uint64
	Base uint64
}

// Marshal returns the wire form: Data followed by one marker byte,
// '1' for a full frame and '0' for a delta.
func (p Payload) Marshal() []byte {
	out := make([]byte, len(p.Data)+1)
	copy(out, p.Data)
	if p.Mode == DeltaFrame {
		out[len(p.Data)] = deltaMarker
	} else {
		out[len(p.Data)] = fullMarker
	}
	return out
}

// Unmarshal parses the wire form produced by Marshal. Data aliases b.
func Unmarshal(b []byte) (Payload, error) {
	if len(b) < 2 {
		return Payload{}, ErrShortPayload
	}
	data := b[:len(b)-1]
	switch b[len(b)-1] {
	case fullMarker:
		return Payload{Data: data, Mode: FullFrame}, nil
	case deltaMarker:
		return Payload{Data: data, Mode: DeltaFrame}, nil
	default:
		return Payload{}, fmt.Errorf("unknown payload marker %q", b[len(b)-1])
	}
}
