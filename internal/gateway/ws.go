package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/steering"
)

// WebSocket keepalive tuning, adapted from the teacher's gRPC-bridged
// control plane but scoped to this Gateway's plain JSON frame envelope.
const (
	wsMaxPayloadBytes = 1 << 20
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is the JSON envelope for every WebSocket message in either
// direction; type discriminates the payload shape.
type wsFrame struct {
	Type    string           `json:"type"`
	Event   model.AgentEvent `json:"event,omitempty"`
	Message string           `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if sessionID == "" {
		jsonError(w, http.StatusBadRequest, "session id required")
		return
	}

	token := r.URL.Query().Get("token")
	if (s.cfg.Pairing != nil || s.cfg.JWT != nil) && !s.authenticate(token) {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if _, ok := s.cfg.Sessions.GetSession(sessionID); !ok {
		sess, err := s.cfg.Sessions.CreateSession(model.SessionConfig{})
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		// CreateSession always mints its own id; the URL's {sessionId} is
		// only a hint for a session that doesn't exist yet, so adopt the id
		// it actually created for every lookup below.
		sessionID = sess.ID
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go s.wsReadLoop(conn, sessionID, done)
	s.wsWriteLoop(r.Context(), conn, sessionID, done)
}

// wsReadLoop drains inbound frames (steer/abort messages from the client)
// until the connection closes, then signals the write loop to stop.
func (s *Server) wsReadLoop(conn *websocket.Conn, sessionID string, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		loop, ok := s.cfg.Sessions.GetLoop(sessionID)
		if !ok {
			continue
		}
		switch frame.Type {
		case "abort":
			loop.Abort(frame.Message)
		case "steer", "inject":
			loop.Steer(steering.Message{Kind: steering.KindInject, Content: frame.Message})
		}
	}
}

// wsWriteLoop forwards the session's AgentEvents to the client as JSON
// frames and sends periodic pings, until done fires or the socket errors.
func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, sessionID string, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	loop, ok := s.cfg.Sessions.GetLoop(sessionID)
	if !ok {
		return
	}
	events, err := loop.Run(ctx, "")
	if err != nil {
		_ = s.writeFrame(conn, wsFrame{Type: "error", Error: err.Error()})
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeFrame(conn, wsFrame{Type: "event", Event: ev}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame)
}
