// Package ws implements the /ws streaming surface: a single WebSocket
// connection per caller, over which "chat.send" requests drive the
// Forced-Tool Orchestrator and its TurnEvents stream back as typed
// frames. Grounded on internal/gateway/ws_control_plane.go's wsFrame
// envelope and per-connection session/writeLoop/readLoop shape,
// narrowed from its full request/event/session-management surface to
// exactly the one "chat.send" -> orchestrator event stream relevant
// here.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dbusmcp/opctl/internal/orchestrator"
	"github.com/dbusmcp/opctl/internal/zones"
	"github.com/dbusmcp/opctl/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 45 * time.Second
	pingPeriod = 15 * time.Second
)

// frame is the wire envelope for every message on the connection,
// matching wsFrame's field set.
type frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Event  string          `json:"event,omitempty"`
	OK     *bool           `json:"ok,omitempty"`
	Payload any            `json:"payload,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
	Seq    int64           `json:"seq,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatSendParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

// Handler upgrades HTTP connections to WebSocket and drives the
// orchestrator per connection.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Zones        *zones.Classifier
	Logger       *slog.Logger

	upgrader websocket.Upgrader
}

// NewHandler builds a Handler, initializing its Upgrader the way
// newWSControlPlane does (generous buffers, permissive CheckOrigin —
// this surface has no browser-facing cookie auth to protect against
// CSRF-via-origin).
func NewHandler(o *orchestrator.Orchestrator, zoneClassifier *zones.Classifier, logger *slog.Logger) *Handler {
	return &Handler{
		Orchestrator: o,
		Zones:        zoneClassifier,
		Logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sess := &session{
		handler: h,
		conn:    conn,
		send:    make(chan frame, 64),
		ctx:     ctx,
		cancel:  cancel,
		id:      uuid.NewString(),
		zone:    models.ZonePublic,
	}
	if h.Zones != nil {
		sess.zone = h.Zones.Classify(clientIP(r))
	}
	sess.run()
}

type session struct {
	handler *Handler
	conn    *websocket.Conn
	send    chan frame
	ctx     context.Context
	cancel  context.CancelFunc
	id      string
	zone    models.AccessZone
	seq     atomic.Int64
}

func (s *session) run() {
	defer s.close()
	go s.writeLoop()
	s.readLoop()
}

func (s *session) close() {
	s.cancel()
	_ = s.conn.Close()
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case f, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return
		}
		s.handleFrame(f)
	}
}

func (s *session) handleFrame(f frame) {
	if f.Method != "chat.send" {
		s.emitError(f.ID, "InvalidRequest", "unsupported method")
		return
	}
	if s.handler.Orchestrator == nil {
		s.emitError(f.ID, "Internal", "orchestrator not initialized")
		return
	}

	var params chatSendParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		s.emitError(f.ID, "InvalidRequest", "malformed params")
		return
	}
	if params.SessionID == "" {
		params.SessionID = s.id
	}

	state := &models.ConversationState{SessionID: params.SessionID}
	execCtx := models.ExecContext{SessionID: params.SessionID, Zone: s.zone, InitiatedBy: "ws"}

	events := s.handler.Orchestrator.Run(s.ctx, state, params.Content, execCtx)
	for event := range events {
		s.emitTurnEvent(f.ID, event)
	}
}

func (s *session) emitTurnEvent(requestID string, event *orchestrator.TurnEvent) {
	ok := event.Error == nil
	payload := map[string]any{
		"phase": event.Phase,
		"turn":  event.Turn,
		"text":  event.Text,
		"done":  event.Done,
	}
	if event.Heartbeat {
		payload["heartbeat"] = true
	}
	var ferr *frameError
	if event.Error != nil {
		ferr = &frameError{Code: "Internal", Message: event.Error.Error()}
	}

	s.send <- frame{
		Type:    "event",
		ID:      requestID,
		Event:   "chat.turn",
		OK:      &ok,
		Payload: payload,
		Error:   ferr,
		Seq:     s.seq.Add(1),
	}
}

func (s *session) emitError(requestID, code, message string) {
	ok := false
	s.send <- frame{
		Type:  "response",
		ID:    requestID,
		OK:    &ok,
		Error: &frameError{Code: code, Message: message},
		Seq:   s.seq.Add(1),
	}
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
