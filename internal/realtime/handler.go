package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

// IdentityHeader carries the caller identity set by the upstream gateway.
const IdentityHeader = "X-User-ID"

// Fallbacks for unset WebSocket settings.
const (
	defaultMaxMessageSize = 4096
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
)

// Handler upgrades HTTP requests to WebSocket connections on a Hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader

	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
}

// NewHandler creates a WebSocket handler for hub.
func NewHandler(hub *Hub, cfg config.WebSocketConfig) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin checking is handled by CORS middleware
				return true
			},
		},
		maxMessageSize: int64(cfg.MaxMessageSize),
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongWait:       time.Duration(cfg.PongTimeout) * time.Second,
	}
	if h.maxMessageSize <= 0 {
		h.maxMessageSize = defaultMaxMessageSize
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongTimeout
	}
	return h
}

// ServeHTTP upgrades the request. The identity comes from the X-User-ID
// header or the user query parameter and is trusted as-is.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		identity = r.URL.Query().Get("user")
	}
	if identity == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"unauthorized","message":"caller identity is required"}}`)) //nolint:errcheck // Best effort
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := h.hub.Connect(identity)

	go h.writePump(ws, conn)
	go h.readPump(ws, conn)
}

// readPump reads client commands until the socket fails.
func (h *Handler) readPump(ws *websocket.Conn, conn *Conn) {
	defer func() {
		h.hub.Disconnect(conn)
		ws.Close()
	}()

	ws.SetReadLimit(h.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	ws.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.hub.logger.Warn("websocket read error", "conn_id", conn.ID(), "error", err)
			} else {
				h.hub.logger.Debug("websocket closed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		// Any client message keeps the connection alive even if the
		// browser ignores protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		ws.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait))
		h.handleCommand(conn, data)
	}
}

// writePump writes queued messages and pings until the hub closes the
// connection's outbound channel or a write fails.
func (h *Handler) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Outbound():
			if !ok {
				//nolint:errcheck // Best-effort close message
				ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			ws.SetWriteDeadline(time.Now().Add(h.pongWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.hub.disconnect(conn, reasonSendFailed)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			ws.SetWriteDeadline(time.Now().Add(h.pongWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.disconnect(conn, reasonSendFailed)
				return
			}
		}
	}
}

// handleCommand processes one client command. Bad input gets an error
// message, never a disconnect.
func (h *Handler) handleCommand(conn *Conn, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.sendError(conn, "invalid JSON message")
		return
	}

	switch cmd.Action {
	case ActionPing:
		h.hub.Send(conn, NewMessage(TypePong, h.hub.now(), nil))
	case ActionJoinRoom:
		h.roomCommand(conn, cmd, h.hub.Join)
	case ActionLeaveRoom:
		h.roomCommand(conn, cmd, h.hub.Leave)
	default:
		h.sendError(conn, "unknown action: "+cmd.Action)
	}
}

func (h *Handler) roomCommand(conn *Conn, cmd command, op func(*Conn, string) error) {
	err := op(conn, cmd.Room)
	switch {
	case err == nil:
		h.hub.logger.Debug("websocket room command", "conn_id", conn.ID(), "action", cmd.Action, "room", cmd.Room)
	case errors.Is(err, ErrInvalidRoom):
		h.sendError(conn, "room is required")
	default:
		h.hub.logger.Debug("room command on closed connection", "conn_id", conn.ID(), "error", err)
	}
}

func (h *Handler) sendError(conn *Conn, message string) {
	h.hub.Send(conn, NewMessage(TypeError, h.hub.now(), map[string]any{"message": message}))
}
