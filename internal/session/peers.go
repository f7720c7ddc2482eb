package session

import (
	"encoding/json"
	"sync"

	"github.com/junsooki/airshare/internal/peer"
)

// Peers answers viewer offers from signaling and attaches each viewer's
// frames channel to the session once it opens.
type Peers struct {
	sess *Session
	cfg  peer.Config
	sig  peer.Signaler

	mu    sync.Mutex
	hosts map[string]*peer.Host
}

// NewPeers creates a peer manager feeding sess.
func NewPeers(sess *Session, cfg peer.Config, sig peer.Signaler) *Peers {
	return &Peers{
		sess:  sess,
		cfg:   cfg,
		sig:   sig,
		hosts: make(map[string]*peer.Host),
	}
}

// HandleOffer creates a connection for viewer from and answers its offer. A
// second offer from the same viewer replaces its connection.
func (p *Peers) HandleOffer(from string, payload json.RawMessage) {
	p.drop(from)

	var h *peer.Host
	h, err := peer.NewHost(p.cfg, p.sig, from, peer.HostCallbacks{
		OnOpen: func() {
			if p.current(from, h) {
				p.sess.AddViewer(from, h.Transport())
			}
		},
		OnClosed: func() {
			p.mu.Lock()
			current := p.hosts[from] == h
			if current {
				delete(p.hosts, from)
			}
			p.mu.Unlock()
			if current {
				p.sess.RemoveViewer(from)
			}
		},
	})
	if err != nil {
		log.WithError(err).WithField("viewer", from).Error("create peer connection")
		return
	}

	p.mu.Lock()
	p.hosts[from] = h
	p.mu.Unlock()

	if err := h.HandleOffer(payload); err != nil {
		log.WithError(err).WithField("viewer", from).Error("answer offer")
		p.drop(from)
	}
}

// HandleICECandidate passes a remote candidate to viewer from's connection.
func (p *Peers) HandleICECandidate(from string, payload json.RawMessage) {
	p.mu.Lock()
	h := p.hosts[from]
	p.mu.Unlock()
	if h == nil {
		log.WithField("viewer", from).Debug("candidate for unknown viewer")
		return
	}
	if err := h.HandleICECandidate(payload); err != nil {
		log.WithError(err).WithField("viewer", from).Warn("add ICE candidate")
	}
}

// HandleViewerLeft closes the connection of a viewer that left signaling.
func (p *Peers) HandleViewerLeft(id string) {
	p.drop(id)
}

// Len returns the number of live connections.
func (p *Peers) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

// Close closes every connection.
func (p *Peers) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.hosts))
	for id := range p.hosts {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.drop(id)
	}
}

// current reports whether h still serves id. Callbacks of replaced
// connections must not touch the session.
func (p *Peers) current(id string, h *peer.Host) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hosts[id] == h
}

func (p *Peers) drop(id string) {
	p.mu.Lock()
	h := p.hosts[id]
	delete(p.hosts, id)
	p.mu.Unlock()

	p.sess.RemoveViewer(id)
	if h != nil {
		if err := h.Close(); err != nil {
			log.WithError(err).WithField("viewer", id).Debug("close peer connection")
		}
	}
}
