package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/engine"
	"github.com/dogwalking/workout-engine/internal/services"
)

// Connection tuning for the event-stream websocket.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	maxConnections = 10000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams one session's engine.Event bus to every client
// connected to /ws?session_id=..., with a tracked connection pool and a
// ping/pong heartbeat to detect dead clients.
type WebSocketHandler struct {
	manager     *services.Manager
	logger      *zap.Logger
	connections sync.Map // string (connection id) -> *websocket.Conn
	activeCount int32
	mu          sync.Mutex
}

// NewWebSocketHandler constructs a handler backed by manager.
func NewWebSocketHandler(manager *services.Manager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{manager: manager, logger: logger}
}

// HandleConnection upgrades the request and streams the requested session's
// events until the client disconnects or the session ends.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.activeCount >= maxConnections {
		h.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	h.activeCount++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.activeCount--
		h.mu.Unlock()
	}()

	eventCh, unsubscribe, ok := h.manager.Subscribe(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	connID := sessionID + "-" + time.Now().Format("150405.000000000")
	h.connections.Store(connID, conn)
	defer func() {
		h.connections.Delete(connID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, eventCh, done)
}

// readPump discards client messages (this endpoint is send-only) but must
// keep reading to process control frames and detect disconnects.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards engine events to the client and sends periodic pings,
// exiting on session end, client disconnect, or write failure.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, eventCh <-chan engine.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, open := <-eventCh:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
			if evt.Type == engine.EventSessionEnded {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Shutdown closes every active connection, used during graceful server
// shutdown.
func (h *WebSocketHandler) Shutdown() {
	h.connections.Range(func(_, v interface{}) bool {
		conn := v.(*websocket.Conn)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return true
	})
}
