// Package connectiontest provides an in-process auction hub for tests.
package connectiontest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/bidup-live/internal/protocol"
)

// Invocation is one client-to-server call observed by the Server.
type Invocation struct {
	Conn      int // 1-based connection number
	Target    string
	Arguments []json.RawMessage
}

// Event is a server-to-client push.
type Event struct {
	Target string
	Args   []any
}

// Reply tells the Server how to answer an invocation. Events are pushed
// before the completion record.
type Reply struct {
	Error  string
	Events []Event
}

// Server is a hub speaking the JSON hub protocol over httptest.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu          sync.Mutex
	rejectToken string
	down        bool
	onInvoke    func(inv Invocation) Reply
	attempts    int
	conns       []*hubConn
	tokens      []string
	invocations []Invocation
}

type hubConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *hubConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a hub. Call Close when done.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the ws:// address of the hub.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}

	s.mu.Lock()
	s.attempts++
	reject := s.rejectToken != "" && token == s.rejectToken
	down := s.down
	s.mu.Unlock()
	if down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	// Handshake
	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{}\x1e")); err != nil {
		return
	}

	conn := &hubConn{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.tokens = append(s.tokens, token)
	n := len(s.conns)
	s.mu.Unlock()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range protocol.Split(frame) {
			msg, err := protocol.Decode(record)
			if err != nil || msg.Type != protocol.TypeInvocation {
				continue
			}
			s.handleInvocation(conn, n, msg)
		}
	}
}

func (s *Server) handleInvocation(conn *hubConn, n int, msg protocol.Message) {
	inv := Invocation{Conn: n, Target: msg.Target, Arguments: msg.Arguments}

	s.mu.Lock()
	s.invocations = append(s.invocations, inv)
	onInvoke := s.onInvoke
	s.mu.Unlock()

	var reply Reply
	if onInvoke != nil {
		reply = onInvoke(inv)
	}

	for _, ev := range reply.Events {
		data, err := protocol.EncodeInvocation("", ev.Target, ev.Args...)
		if err == nil {
			conn.write(data)
		}
	}

	if msg.InvocationID == "" {
		return
	}
	completion := map[string]any{"type": protocol.TypeCompletion, "invocationId": msg.InvocationID}
	if reply.Error != "" {
		completion["error"] = reply.Error
	}
	data, _ := json.Marshal(completion)
	conn.write(append(data, protocol.RecordSeparator))
}

// SetRejectToken makes upgrades carrying token fail with 401.
func (s *Server) SetRejectToken(token string) {
	s.mu.Lock()
	s.rejectToken = token
	s.mu.Unlock()
}

// SetDown makes upgrades fail with 503 until called again with false.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// SetOnInvoke sets the function deciding the reply to each invocation.
func (s *Server) SetOnInvoke(fn func(inv Invocation) Reply) {
	s.mu.Lock()
	s.onInvoke = fn
	s.mu.Unlock()
}

// Push sends an event on the newest connection.
func (s *Server) Push(target string, args ...any) error {
	conn := s.latest()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	data, err := protocol.EncodeInvocation("", target, args...)
	if err != nil {
		return err
	}
	return conn.write(data)
}

// SendClose sends a Close record on the newest connection.
func (s *Server) SendClose(allowReconnect bool) error {
	conn := s.latest()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	data, _ := json.Marshal(map[string]any{"type": protocol.TypeClose, "allowReconnect": allowReconnect})
	return conn.write(append(data, protocol.RecordSeparator))
}

// Drop abruptly closes the newest connection.
func (s *Server) Drop() {
	if conn := s.latest(); conn != nil {
		conn.ws.Close()
	}
}

// Connections returns how many connections completed the handshake.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Attempts returns how many upgrade requests arrived, rejected ones included.
func (s *Server) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Tokens returns the credential presented by each connection.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Invocations returns all invocations seen so far.
func (s *Server) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}

// InvocationsOf returns the invocations of one target.
func (s *Server) InvocationsOf(target string) []Invocation {
	var out []Invocation
	for _, inv := range s.Invocations() {
		if inv.Target == target {
			out = append(out, inv)
		}
	}
	return out
}

func (s *Server) latest() *hubConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
