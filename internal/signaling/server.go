package signaling

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server is a WebSocket relay. Hosts and viewers register with an ID; offers,
// answers and ICE candidates are forwarded to the target with From filled in.
// Hosts learn when a viewer that contacted them disconnects.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*serverConn
}

type serverConn struct {
	id   string
	kind string
	conn *websocket.Conn

	wmu   sync.Mutex
	hosts map[string]bool // viewers only: hosts this viewer sent offers to
}

func (c *serverConn) write(msg Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// NewServer creates an empty relay.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*serverConn),
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c, err := s.register(conn)
	if err != nil {
		_ = conn.WriteJSON(Message{Type: TypeError, Msg: err.Error()})
		return
	}
	defer s.unregister(c)

	entry := log.WithFields(logrus.Fields{"id": c.id, "kind": c.kind})
	entry.Info("client registered")

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			entry.WithError(err).Debug("client read ended")
			return
		}
		s.handle(c, msg)
	}
}

func (s *Server) register(conn *websocket.Conn) (*serverConn, error) {
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read register: %w", err)
	}
	if msg.Type != TypeRegister || msg.ID == "" {
		return nil, errors.New("first message must register an id")
	}
	if msg.ClientType != ClientTypeHost && msg.ClientType != ClientTypeViewer {
		return nil, fmt.Errorf("unknown client type %q", msg.ClientType)
	}

	c := &serverConn{id: msg.ID, kind: msg.ClientType, conn: conn, hosts: make(map[string]bool)}

	s.mu.Lock()
	if _, taken := s.clients[c.id]; taken {
		s.mu.Unlock()
		return nil, fmt.Errorf("id %q already registered", c.id)
	}
	s.clients[c.id] = c
	s.mu.Unlock()

	if err := c.write(Message{Type: TypeRegistered, ID: c.id}); err != nil {
		s.unregister(c)
		return nil, err
	}
	if c.kind == ClientTypeHost {
		s.broadcastHosts()
	}
	return c, nil
}

func (s *Server) unregister(c *serverConn) {
	s.mu.Lock()
	if s.clients[c.id] != c {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)

	var notify []*serverConn
	var msg Message
	switch c.kind {
	case ClientTypeHost:
		msg = Message{Type: TypeHostDisconnected, HostID: c.id}
		for _, other := range s.clients {
			if other.kind == ClientTypeViewer && other.hosts[c.id] {
				delete(other.hosts, c.id)
				notify = append(notify, other)
			}
		}
	case ClientTypeViewer:
		msg = Message{Type: TypeViewerLeft, ViewerID: c.id}
		for hostID := range c.hosts {
			if h, ok := s.clients[hostID]; ok {
				notify = append(notify, h)
			}
		}
	}
	s.mu.Unlock()

	for _, other := range notify {
		_ = other.write(msg)
	}
	s.broadcastHosts()
	log.WithField("id", c.id).Info("client left")
}

func (s *Server) handle(c *serverConn, msg Message) {
	switch msg.Type {
	case TypePing:
		_ = c.write(Message{Type: TypePong, Timestamp: time.Now().UnixMilli()})
	case TypeListHosts:
		_ = c.write(Message{Type: TypeHosts, List: s.Hosts()})
	case TypeOffer, TypeAnswer, TypeICECandidate:
		s.relay(c, msg)
	default:
		_ = c.write(Message{Type: TypeError, Msg: fmt.Sprintf("unsupported message type %q", msg.Type)})
	}
}

func (s *Server) relay(from *serverConn, msg Message) {
	s.mu.Lock()
	target, ok := s.clients[msg.Target]
	if ok && from.kind == ClientTypeViewer && target.kind == ClientTypeHost {
		from.hosts[target.id] = true
	}
	s.mu.Unlock()

	if !ok {
		_ = from.write(Message{Type: TypeError, Msg: fmt.Sprintf("target %q not connected", msg.Target)})
		return
	}

	out := Message{Type: msg.Type, From: from.id, Payload: msg.Payload}
	if err := target.write(out); err != nil {
		log.WithError(err).WithField("target", target.id).Warn("relay failed")
	}
	if msg.Type == TypeOffer {
		s.broadcastHosts()
	}
}

// Hosts lists registered hosts sorted by ID with their viewer counts.
func (s *Server) Hosts() []HostInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []HostInfo
	for _, c := range s.clients {
		if c.kind != ClientTypeHost {
			continue
		}
		info := HostInfo{ID: c.id, Online: true}
		for _, v := range s.clients {
			if v.kind == ClientTypeViewer && v.hosts[c.id] {
				info.Viewers++
			}
		}
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (s *Server) broadcastHosts() {
	hosts := s.Hosts()

	s.mu.Lock()
	var viewers []*serverConn
	for _, c := range s.clients {
		if c.kind == ClientTypeViewer {
			viewers = append(viewers, c)
		}
	}
	s.mu.Unlock()

	for _, v := range viewers {
		_ = v.write(Message{Type: TypeHostsUpdated, List: hosts})
	}
}
