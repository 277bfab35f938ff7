// Package sessiontest runs an in-process game server for session tests.
package sessiontest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every wait in this package.
const DefaultTimeout = 2 * time.Second

// Server accepts WebSocket upgrades and hands each connection to the test as a Peer.
type Server struct {
	t        testing.TB
	http     *httptest.Server
	upgrader websocket.Upgrader
	peers    chan *Peer

	// ignorePings makes peers swallow pings instead of answering with pongs.
	ignorePings bool
}

// Option customises a Server.
type Option func(*Server)

// IgnorePings simulates a server that is still connected but no longer
// answers keepalive pings.
func IgnorePings() Option {
	return func(s *Server) { s.ignorePings = true }
}

// Peer is the server side of one client connection.
type Peer struct {
	conn    *websocket.Conn
	Origin  string
	inbound chan []byte
	done    chan struct{}
	writeMu sync.Mutex
}

// NewServer starts a server that is shut down when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		peers:    make(chan *Peer, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(s.http.Close)
	return s
}

// Host is the address to pass to session.Connect.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.http.URL, "http://")
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &Peer{
		conn:    conn,
		Origin:  r.Header.Get("Origin"),
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	if s.ignorePings {
		conn.SetPingHandler(func(string) error { return nil })
	}
	go peer.readLoop()
	s.peers <- peer
}

// Accept waits for the next client connection.
func (s *Server) Accept() *Peer {
	s.t.Helper()
	select {
	case peer := <-s.peers:
		s.t.Cleanup(func() { _ = peer.conn.Close() })
		return peer
	case <-time.After(DefaultTimeout):
		s.t.Fatalf("no client connected within %v", DefaultTimeout)
		return nil
	}
}

func (p *Peer) readLoop() {
	defer close(p.done)
	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		p.inbound <- msg
	}
}

// Next returns the next frame the client sent.
func (p *Peer) Next(t testing.TB) []byte {
	t.Helper()
	select {
	case msg := <-p.inbound:
		return msg
	case <-time.After(DefaultTimeout):
		t.Fatalf("client sent nothing within %v", DefaultTimeout)
		return nil
	}
}

// Send writes one binary frame to the client.
func (p *Peer) Send(t testing.TB, frame []byte) {
	t.Helper()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

// Close drops the connection without a close handshake.
func (p *Peer) Close() { _ = p.conn.Close() }

// WaitClosed blocks until the client side has gone away.
func (p *Peer) WaitClosed(t testing.TB) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(DefaultTimeout):
		t.Fatalf("client did not close within %v", DefaultTimeout)
	}
}
