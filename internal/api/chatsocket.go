package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/bladealex9848/expert-nexus/internal/identity"
	"github.com/bladealex9848/expert-nexus/internal/selection"
	"github.com/bladealex9848/expert-nexus/internal/turn"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Socket frame types.
const (
	frameMessage = "message"
	frameChoice  = "choice"
	frameSwitch  = "switch"
	framePing    = "ping"

	frameSession = "session"
	frameOutcome = "outcome"
	frameError   = "error"
	framePong    = "pong"
)

type inboundFrame struct {
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	Choice          string `json:"choice,omitempty"`
	Expert          string `json:"expert,omitempty"`
	PreserveContext *bool  `json:"preserve_context,omitempty"`
}

type outboundFrame struct {
	Type      string           `json:"type"`
	Outcome   *turn.Outcome    `json:"outcome,omitempty"`
	Switch    *turn.SwitchInfo `json:"switch,omitempty"`
	Session   *sessionView     `json:"session,omitempty"`
	Error     string           `json:"error,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

// connRegistry tracks the live socket per user and tab session.
type connRegistry struct {
	mu     sync.Mutex
	active map[string]map[string]*websocket.Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{active: make(map[string]map[string]*websocket.Conn)}
}

// register adds conn, closing any previous socket for the same tab.
func (m *connRegistry) register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[userID]; !ok {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, ok := m.active[userID][sessionID]; ok && existing != conn {
		// Close waits for the peer's handshake; never under the lock.
		go closeConn(existing, websocket.StatusPolicyViolation, "session replaced")
	}
	m.active[userID][sessionID] = conn
}

func (m *connRegistry) unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok || sessions[sessionID] != conn {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
}

func (m *connRegistry) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.active {
		n += len(s)
	}
	return n
}

func (m *connRegistry) closeAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, sessions := range m.active {
		for _, conn := range sessions {
			go closeConn(conn, websocket.StatusGoingAway, reason)
		}
		delete(m.active, uid)
	}
}

func closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	_ = conn.Close(code, reason)
}

// ChatSocket serves the live chat channel. Each inbound frame runs through
// the same service operations as the HTTP endpoints.
type ChatSocket struct {
	*Handler
	conns         *connRegistry
	allowedOrigin string
	isDev         bool
}

// NewChatSocket creates the /ws/chat handler.
func NewChatSocket(base *Handler, frontendURL string, isDev bool) *ChatSocket {
	return &ChatSocket{Handler: base, conns: newConnRegistry(), allowedOrigin: frontendURL, isDev: isDev}
}

// Close disconnects every live socket.
func (s *ChatSocket) Close() {
	s.conns.closeAll("server shutting down")
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (s *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r, channelWS)
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error("Failed to accept WebSocket", "error", err, "user_id", ref.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			s.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", ref.UserID)
		}
	}()

	s.conns.register(ref.UserID, ref.SessionID, ws)
	defer s.conns.unregister(ref.UserID, ref.SessionID, ws)

	ctx := r.Context()
	sess, err := s.svc.Snapshot(ctx, ref)
	if err != nil {
		s.writeFrame(ctx, ws, errorFrame(err))
		return
	}
	view := s.view(sess)
	if err := wsjson.Write(ctx, ws, outboundFrame{Type: frameSession, Session: &view}); err != nil {
		return
	}

	s.readLoop(ctx, ws, ref)
	s.logger.Debug("Chat socket closed", "session_key", ref.Key())
}

func (s *ChatSocket) readLoop(ctx context.Context, ws *websocket.Conn, ref turn.Ref) {
	for {
		var in inboundFrame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Warn("WebSocket read error", "error", err, "user_id", ref.UserID)
			}
			return
		}
		if err := s.writeFrame(ctx, ws, s.dispatch(ctx, ref, in)); err != nil {
			return
		}
	}
}

func (s *ChatSocket) dispatch(ctx context.Context, ref turn.Ref, in inboundFrame) outboundFrame {
	switch in.Type {
	case framePing:
		return outboundFrame{Type: framePong}
	case frameMessage, frameChoice:
		if s.limiter != nil && !s.limiter.Allow(ref.UserID) {
			return outboundFrame{Type: frameError, Error: "rate limit exceeded", Retryable: true}
		}
		var (
			out turn.Outcome
			err error
		)
		if in.Type == frameMessage {
			out, err = s.svc.Submit(ctx, ref, in.Content)
		} else {
			var c selection.Choice
			if c, err = selection.ParseChoice(in.Choice); err != nil {
				return outboundFrame{Type: frameError, Error: err.Error()}
			}
			out, err = s.svc.Choose(ctx, ref, c)
		}
		if err != nil {
			return errorFrame(err)
		}
		return outboundFrame{Type: frameOutcome, Outcome: &out}
	case frameSwitch:
		preserve := in.PreserveContext == nil || *in.PreserveContext
		info, err := s.svc.SwitchExpert(ctx, ref, in.Expert, preserve)
		if err != nil {
			return errorFrame(err)
		}
		return outboundFrame{Type: frameSwitch, Switch: &info}
	default:
		return outboundFrame{Type: frameError, Error: "unknown frame type"}
	}
}

func errorFrame(err error) outboundFrame {
	_, msg, retryable := classifyError(err)
	return outboundFrame{Type: frameError, Error: msg, Retryable: retryable}
}

func (s *ChatSocket) writeFrame(ctx context.Context, ws *websocket.Conn, f outboundFrame) error {
	err := wsjson.Write(ctx, ws, f)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("WebSocket write error", "error", err)
	}
	return err
}

func (s *ChatSocket) checkOrigin(r *http.Request) bool {
	if s.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowedOrigin == "" || s.allowedOrigin == "*" || origin == s.allowedOrigin {
		return true
	}
	s.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", s.allowedOrigin, "ip", identity.IPFromRequest(r))
	return false
}
