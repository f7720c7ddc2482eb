package peer

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay delivers signaling between a Host and a Viewer in one process, in
// send order, like the signaling server does.
type relay struct {
	q      chan func() error
	host   *Host
	viewer *Viewer
}

func newRelay(t *testing.T) *relay {
	r := &relay{q: make(chan func() error, 256)}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case fn := <-r.q:
				_ = fn()
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(done) })
	return r
}

type hostSide struct{ r *relay }

func (s hostSide) SendOffer(string, json.RawMessage) error { return nil }
func (s hostSide) SendAnswer(_ string, p json.RawMessage) error {
	s.r.q <- func() error { return s.r.viewer.HandleAnswer(p) }
	return nil
}
func (s hostSide) SendICECandidate(_ string, p json.RawMessage) error {
	s.r.q <- func() error { return s.r.viewer.HandleICECandidate(p) }
	return nil
}

type viewerSide struct{ r *relay }

func (s viewerSide) SendOffer(_ string, p json.RawMessage) error {
	s.r.q <- func() error { return s.r.host.HandleOffer(p) }
	return nil
}
func (s viewerSide) SendAnswer(string, json.RawMessage) error { return nil }
func (s viewerSide) SendICECandidate(_ string, p json.RawMessage) error {
	s.r.q <- func() error { return s.r.host.HandleICECandidate(p) }
	return nil
}

var localConfig = Config{IncludeLoopback: true}

func TestHostViewer_FramesFlow(t *testing.T) {
	r := newRelay(t)

	opened := make(chan struct{})
	closed := make(chan struct{})
	host, err := NewHost(localConfig, hostSide{r}, "viewer-1", HostCallbacks{
		OnOpen:   func() { close(opened) },
		OnClosed: func() { close(closed) },
	})
	require.NoError(t, err)
	viewer, err := NewViewer(localConfig, viewerSide{r}, "host-1", nil)
	require.NoError(t, err)
	defer viewer.Close()
	r.host, r.viewer = host, viewer

	frames := make(chan []byte, 1)
	viewer.Transport().OnFrame(func(data []byte) { frames <- data })

	require.NoError(t, viewer.Connect())
	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("frames channel never opened")
	}

	frame := bytes.Repeat([]byte("pixels"), 40000)
	require.Eventually(t, func() bool {
		return host.Transport().SendFrame(frame) == nil
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case got := <-frames:
		assert.Equal(t, frame, got)
	case <-time.After(5 * time.Second):
		t.Fatal("frame never arrived")
	}

	require.NoError(t, host.Close())
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnClosed not called")
	}
}

func TestCandidates_HeldUntilRemoteDescription(t *testing.T) {
	pc, err := Config{}.NewPeerConnection()
	require.NoError(t, err)
	defer pc.Close()

	var c candidates
	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host","sdpMid":"0"}`)
	require.NoError(t, c.add(pc, cand))
	require.NoError(t, c.add(pc, cand))
	assert.Len(t, c.pending, 2)

	assert.Error(t, c.add(pc, json.RawMessage(`not json`)))
}
