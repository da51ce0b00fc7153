package btp

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SecretLookup resolves the shared secret configured for a peer, per
// §6's BTP_PEER_<peerId>_SECRET convention.
type SecretLookup func(peerID string) (secret string, ok bool)

// Server accepts inbound BTP connections and, once authenticated,
// attaches them to the matching registered Endpoint.
type Server struct {
	secrets SecretLookup

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewServer constructs a Server backed by secrets for auth verification.
func NewServer(secrets SecretLookup) *Server {
	return &Server{
		secrets:   secrets,
		endpoints: make(map[string]*Endpoint),
	}
}

// Register associates peerID with ep so future inbound connections
// authenticating as peerID are attached to it.
func (s *Server) Register(peerID string, ep *Endpoint) {
	s.mu.Lock()
	s.endpoints[peerID] = ep
	s.mu.Unlock()
}

// ServeHTTP upgrades the request to a WebSocket, performs the AUTH
// handshake, and hands the connection off to the matching Endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("btp websocket upgrade failed", "err", err)
		return
	}

	peerID, requestID, err := s.authenticate(conn)
	if err != nil {
		log.Warnw("btp inbound auth failed", "err", err)
		conn.Close()
		return
	}

	s.mu.RLock()
	ep, ok := s.endpoints[peerID]
	s.mu.RUnlock()
	if !ok {
		log.Warnw("btp inbound connection from unregistered peer", "peerId", peerID)
		conn.Close()
		return
	}

	ack, err := NewAuthFrame(requestID, AuthData{PeerID: peerID})
	if err != nil {
		conn.Close()
		return
	}
	raw, err := json.Marshal(ack)
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		return
	}

	ep.Attach(conn)
}

func (s *Server) authenticate(conn *websocket.Conn) (peerID, requestID string, err error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", "", err
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", "", err
	}
	if f.Type != FrameAuth {
		return "", "", ErrAuthRejected
	}

	var d AuthData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return "", "", err
	}

	want, ok := s.secrets(d.PeerID)
	if !ok || want != d.Secret {
		return "", "", ErrAuthRejected
	}

	return d.PeerID, f.RequestID, nil
}
