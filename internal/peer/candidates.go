package peer

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
)

// candidates holds remote ICE candidates that arrive before the remote
// description is set. Trickled candidates can overtake the SDP they belong to.
type candidates struct {
	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (c *candidates) add(pc *webrtc.PeerConnection, payload json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &cand); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return pc.AddICECandidate(cand)
}

// setRemote applies desc and then any candidates held back.
func (c *candidates) setRemote(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.remoteSet = true
	c.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			return err
		}
	}
	return nil
}
