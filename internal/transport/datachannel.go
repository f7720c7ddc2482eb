package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/airshare/internal/logging"
)

// MaxBuffered is the amount of queued outgoing data above which SendFrame
// reports ErrCongested instead of queueing more.
const MaxBuffered = 4 * 1024 * 1024

var log = logging.For("transport")

// DataChannelTransport sends and receives frames over a WebRTC DataChannel.
// Frames are split into chunks; the channel must be ordered and reliable
// because deltas depend on every frame before them.
type DataChannelTransport struct {
	mu        sync.Mutex
	framesDC  *webrtc.DataChannel
	seq       uint32
	chunkSize int

	onFrame func(data []byte)
	asm     Assembler
}

// NewDataChannelTransport wraps the frames DataChannel. dc may be nil and set
// later with SetFramesChannel.
func NewDataChannelTransport(dc *webrtc.DataChannel) *DataChannelTransport {
	t := &DataChannelTransport{chunkSize: DefaultChunkSize}
	if dc != nil {
		t.SetFramesChannel(dc)
	}
	return t
}

// FramesChannelInit returns the DataChannel options frames need.
func FramesChannelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

// SendFrame sends one frame as a run of chunks.
func (t *DataChannelTransport) SendFrame(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.framesDC == nil || t.framesDC.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	if t.framesDC.BufferedAmount() > MaxBuffered {
		return ErrCongested
	}

	t.seq++
	chunks, err := Split(t.seq, data, t.chunkSize)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := t.framesDC.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// OnFrame registers the callback for reassembled frames.
func (t *DataChannelTransport) OnFrame(cb func(data []byte)) {
	t.mu.Lock()
	t.onFrame = cb
	t.mu.Unlock()
}

// SetFramesChannel sets or replaces the frames DataChannel (used when receiving negotiated channels).
func (t *DataChannelTransport) SetFramesChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.framesDC = dc
	t.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.receive(msg.Data)
	})
}

// receive runs on the DataChannel's read goroutine.
func (t *DataChannelTransport) receive(chunk []byte) {
	frame, err := t.asm.Add(chunk)
	if err != nil {
		log.WithError(err).Debug("discarding partial frame")
		return
	}
	if frame == nil {
		return
	}

	t.mu.Lock()
	cb := t.onFrame
	t.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}
