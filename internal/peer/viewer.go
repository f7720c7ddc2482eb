package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/airshare/internal/transport"
)

// Viewer is the viewing side. It opens the frames channel and makes the offer.
type Viewer struct {
	pc        *webrtc.PeerConnection
	sig       Signaler
	hostID    string
	transport *transport.DataChannelTransport
	cands     candidates
}

// NewViewer creates the viewer end of a connection to hostID. onState, if
// not nil, receives connection state changes.
func NewViewer(cfg Config, sig Signaler, hostID string, onState func(webrtc.PeerConnectionState)) (*Viewer, error) {
	pc, err := cfg.NewPeerConnection()
	if err != nil {
		return nil, err
	}

	dc, err := pc.CreateDataChannel(FramesLabel, transport.FramesChannelInit())
	if err != nil {
		pc.Close()
		return nil, err
	}
	dc.OnOpen(func() {
		log.WithField("host", hostID).Info("frames channel open")
	})

	v := &Viewer{
		pc:        pc,
		sig:       sig,
		hostID:    hostID,
		transport: transport.NewDataChannelTransport(dc),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.WithField("state", state.String()).Debug("peer connection state")
		if onState != nil {
			onState(state)
		}
	})
	sendCandidates(pc, sig, hostID)
	return v, nil
}

// Transport returns the frames transport.
func (v *Viewer) Transport() *transport.DataChannelTransport { return v.transport }

// Connect creates an offer and sends it to the host.
func (v *Viewer) Connect() error {
	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return v.sig.SendOffer(v.hostID, data)
}

// HandleAnswer applies the host's answer.
func (v *Viewer) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return err
	}
	return v.cands.setRemote(v.pc, answer)
}

// HandleICECandidate adds a remote ICE candidate.
func (v *Viewer) HandleICECandidate(payload json.RawMessage) error {
	return v.cands.add(v.pc, payload)
}

// Close shuts down the peer connection.
func (v *Viewer) Close() error {
	return v.pc.Close()
}
