// Package peer sets up the WebRTC connections that carry frames from a host
// to its viewers.
package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/airshare/internal/logging"
)

// FramesLabel is the label of the DataChannel carrying frames.
const FramesLabel = "frames"

// DefaultICEServers are the STUN servers used when none are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

var log = logging.For("peer")

// Signaler is the part of signaling.Client a peer needs.
type Signaler interface {
	SendOffer(target string, payload json.RawMessage) error
	SendAnswer(target string, payload json.RawMessage) error
	SendICECandidate(target string, payload json.RawMessage) error
}

// Config controls PeerConnection creation.
type Config struct {
	ICEServers []string
	// IncludeLoopback gathers 127.0.0.1 candidates so both ends can run on
	// one machine without a network interface.
	IncludeLoopback bool
}

// NewPeerConnection creates a configured PeerConnection.
func (c Config) NewPeerConnection() (*webrtc.PeerConnection, error) {
	var s webrtc.SettingEngine
	s.SetIncludeLoopbackCandidate(c.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	var servers []webrtc.ICEServer
	if len(c.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}

// sendCandidates forwards local ICE candidates to target.
func sendCandidates(pc *webrtc.PeerConnection, sig Signaler, target string) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.WithError(err).Warn("marshal ICE candidate")
			return
		}
		if err := sig.SendICECandidate(target, data); err != nil {
			log.WithError(err).WithField("target", target).Debug("send ICE candidate")
		}
	})
}
