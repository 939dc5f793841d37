// Package wsbroker is a minimal reference pub/sub broker and client pair
// transported over websockets, implementing the same semantics as
// internal/pubsub (topic filters with a single trailing "+" wildcard,
// retained publishes). It exists so cmd/hub and cmd/node can be run
// end-to-end against each other without a separately deployed MQTT
// broker; spec.md still treats the broker as an external, commodity
// component, and any real deployment swaps this out for a production
// adapter behind the same pubsub.Client interface.
//
// The connection-handling shape (gorilla/websocket Upgrader, a
// register/unregister peer table, a buffered per-peer write pump) is
// adapted from the teacher's internal/ws.Router and internal/pty.Hub.
package wsbroker

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type frameType string

const (
	frameSubscribe frameType = "subscribe"
	framePublish   frameType = "publish"
	frameMessage   frameType = "message"
)

type wireFrame struct {
	Type    frameType       `json:"type"`
	Filter  string          `json:"filter,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	QoS     int             `json:"qos,omitempty"`
	Retain  bool            `json:"retain,omitempty"`
}

// Server is an http.Handler that relays pub/sub frames between connected
// websocket peers.
type Server struct {
	mu       sync.Mutex
	peers    map[string]*serverPeer
	retained map[string]wireFrame
}

// NewServer creates an empty broker server.
func NewServer() *Server {
	return &Server{
		peers:    make(map[string]*serverPeer),
		retained: make(map[string]wireFrame),
	}
}

type serverPeer struct {
	id      string
	conn    *websocket.Conn
	out     chan wireFrame
	filters map[string]struct{}
	mu      sync.Mutex
}

// ServeHTTP upgrades the request to a websocket and relays frames for the
// lifetime of the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsbroker: upgrade failed: %v", err)
		return
	}

	peer := &serverPeer{
		id:      uuid.NewString(),
		conn:    conn,
		out:     make(chan wireFrame, 256),
		filters: make(map[string]struct{}),
	}

	s.mu.Lock()
	s.peers[peer.id] = peer
	s.mu.Unlock()

	done := make(chan struct{})
	go s.writePump(peer, done)
	s.readPump(peer)
	close(done)

	s.mu.Lock()
	delete(s.peers, peer.id)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) writePump(peer *serverPeer, done <-chan struct{}) {
	for {
		select {
		case frame := <-peer.out:
			if err := peer.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readPump(peer *serverPeer) {
	for {
		var frame wireFrame
		if err := peer.conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case frameSubscribe:
			peer.mu.Lock()
			peer.filters[frame.Filter] = struct{}{}
			peer.mu.Unlock()
			s.replayRetained(peer, frame.Filter)
		case framePublish:
			s.fanOut(frame)
		}
	}
}

func (s *Server) replayRetained(peer *serverPeer, filter string) {
	if strings.HasSuffix(filter, "/+") {
		return
	}
	s.mu.Lock()
	retained, ok := s.retained[filter]
	s.mu.Unlock()
	if !ok {
		return
	}
	msg := retained
	msg.Type = frameMessage
	select {
	case peer.out <- msg:
	default:
	}
}

func (s *Server) fanOut(frame wireFrame) {
	s.mu.Lock()
	if frame.Retain {
		s.retained[frame.Topic] = frame
	}
	var targets []*serverPeer
	for _, peer := range s.peers {
		peer.mu.Lock()
		matched := false
		for filter := range peer.filters {
			if topicMatches(filter, frame.Topic) {
				matched = true
				break
			}
		}
		peer.mu.Unlock()
		if matched {
			targets = append(targets, peer)
		}
	}
	s.mu.Unlock()

	out := frame
	out.Type = frameMessage
	for _, peer := range targets {
		select {
		case peer.out <- out:
		default:
		}
	}
}

func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.HasSuffix(filter, "/+") {
		return false
	}
	prefix := strings.TrimSuffix(filter, "+")
	if !strings.HasPrefix(topic, prefix) {
		return false
	}
	rest := strings.TrimPrefix(topic, prefix)
	return rest != "" && !strings.Contains(rest, "/")
}
