// Package transport moves processed frames between host and viewer.
package transport

import "errors"

// ErrCongested is returned by SendFrame when the channel has too much data
// buffered. The frame was not sent, so the receiver's delta chain is broken
// until the next full frame.
var ErrCongested = errors.New("frames channel congested")

// ErrNotOpen is returned when the frames channel is missing or not open yet.
var ErrNotOpen = errors.New("frames channel not open")

// FrameSender sends encoded video frames.
type FrameSender interface {
	SendFrame(data []byte) error
}

// FrameReceiver receives encoded video frames.
type FrameReceiver interface {
	OnFrame(callback func(data []byte))
}
