package peer

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/airshare/internal/transport"
)

// HostCallbacks report a viewer connection's lifecycle. They run on pion
// goroutines.
type HostCallbacks struct {
	// OnOpen fires when the frames channel can carry data.
	OnOpen func()
	// OnClosed fires once when the connection fails or closes.
	OnClosed func()
}

// Host is the host side of the connection to one viewer. The viewer offers
// and opens the frames channel; the host answers.
type Host struct {
	pc        *webrtc.PeerConnection
	sig       Signaler
	viewerID  string
	transport *transport.DataChannelTransport
	cands     candidates
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewHost creates the host end for viewerID.
func NewHost(cfg Config, sig Signaler, viewerID string, cb HostCallbacks) (*Host, error) {
	pc, err := cfg.NewPeerConnection()
	if err != nil {
		return nil, err
	}

	h := &Host{
		pc:        pc,
		sig:       sig,
		viewerID:  viewerID,
		transport: transport.NewDataChannelTransport(nil),
		log:       log.WithField("viewer", viewerID),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != FramesLabel {
			h.log.WithField("label", dc.Label()).Debug("ignoring data channel")
			return
		}
		h.transport.SetFramesChannel(dc)
		dc.OnOpen(func() {
			h.log.Info("frames channel open")
			if cb.OnOpen != nil {
				cb.OnOpen()
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		h.log.WithField("state", state.String()).Debug("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			h.closeOnce.Do(func() {
				if cb.OnClosed != nil {
					cb.OnClosed()
				}
			})
		}
	})

	sendCandidates(pc, sig, viewerID)
	return h, nil
}

// ViewerID returns the viewer this connection serves.
func (h *Host) ViewerID() string { return h.viewerID }

// Transport returns the frames transport.
func (h *Host) Transport() *transport.DataChannelTransport { return h.transport }

// HandleOffer applies the viewer's offer and sends back an answer.
func (h *Host) HandleOffer(payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return err
	}
	if err := h.cands.setRemote(h.pc, offer); err != nil {
		return err
	}

	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := h.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return h.sig.SendAnswer(h.viewerID, data)
}

// HandleICECandidate adds a remote ICE candidate.
func (h *Host) HandleICECandidate(payload json.RawMessage) error {
	return h.cands.add(h.pc, payload)
}

// Close shuts down the peer connection.
func (h *Host) Close() error {
	return h.pc.Close()
}
