// Package connectiontest provides an in-process session server for tests.
package connectiontest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const wait = 2 * time.Second

// Handshake describes an accepted connection.
type Handshake struct {
	Path        string
	Subprotocol string
}

// Server accepts websocket connections on any path, records what clients
// send and lets the test push frames back.
type Server struct {
	srv *httptest.Server

	handshakes chan Handshake
	received   chan string

	mu    sync.Mutex
	conn  *websocket.Conn
	ready chan struct{}
	once  sync.Once
}

func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		handshakes: make(chan Handshake, 8),
		received:   make(chan string, 64),
		ready:      make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))

	t.Cleanup(func() {
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		s.srv.Close()
	})

	return s
}

// URL returns the websocket URL of path on this server.
func (s *Server) URL(path string) string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	// The creator token travels as a subprotocol, it has to be echoed back.
	var protocol string
	if ps := websocket.Subprotocols(r); len(ps) > 0 {
		protocol = strings.Join(ps, ",")
		up.Subprotocols = ps
	}

	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = ws
	s.mu.Unlock()

	s.handshakes <- Handshake{Path: r.URL.Path, Subprotocol: protocol}
	s.once.Do(func() { close(s.ready) })

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		if typ == websocket.TextMessage {
			s.received <- string(data)
		}
	}
}

// WaitHandshake returns the next accepted connection.
func (s *Server) WaitHandshake(t *testing.T) Handshake {
	t.Helper()

	select {
	case h := <-s.handshakes:
		return h
	case <-time.After(wait):
		t.Fatalf("timed out waiting for a connection")
		return Handshake{}
	}
}

// NoHandshake fails if a client connected within d.
func (s *Server) NoHandshake(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case h := <-s.handshakes:
		t.Fatalf("expected no connection, got %+v", h)
	case <-time.After(d):
	}
}

// Next returns the next text frame sent by the client.
func (s *Server) Next(t *testing.T) string {
	t.Helper()

	select {
	case f := <-s.received:
		return f
	case <-time.After(wait):
		t.Fatalf("timed out waiting for a frame")
		return ""
	}
}

// Push writes a text frame to the connected client.
func (s *Server) Push(t *testing.T, frame string) {
	t.Helper()

	ws := s.wsConn(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

// CloseNormal ends the connection with a normal close frame.
func (s *Server) CloseNormal(t *testing.T) {
	t.Helper()

	ws := s.wsConn(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "game finished")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
}

// Drop closes the network connection without a close frame.
func (s *Server) Drop(t *testing.T) {
	t.Helper()

	ws := s.wsConn(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = ws.UnderlyingConn().Close()
}

func (s *Server) wsConn(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case <-s.ready:
	case <-time.After(wait):
		t.Fatalf("no client connected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn
}
