package web

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"astro-live-stacker/pipeline"
)

// notification is the envelope sent to websocket clients.
type notification struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NotificationHub consumes the pipeline notification queue and fans
// stats and error events out to connected websocket clients. It also
// retains the last stats event for the polling status endpoint.
type NotificationHub struct {
	in     *pipeline.Q
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	lastStats *pipeline.StatsEvent
	closed    bool
}

// NewNotificationHub creates a hub reading from the notification queue.
func NewNotificationHub(in *pipeline.Q, logger *zap.Logger) *NotificationHub {
	return &NotificationHub{
		in:     in,
		logger: logger.With(zap.String("component", "notify_hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The web UI may be served from another host during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Run executes the hub loop until the shutdown sentinel arrives on the
// notification queue. All clients are disconnected on exit.
func (h *NotificationHub) Run() {
	h.logger.Info("Notification hub started")
	for {
		switch msg := h.in.Pop().(type) {
		case *pipeline.StatsEvent:
			h.mu.Lock()
			h.lastStats = msg
			h.mu.Unlock()
			h.broadcast(notification{Type: "stats", Data: msg})
		case *pipeline.ErrorEvent:
			h.broadcast(notification{Type: "error", Data: msg})
		case pipeline.Shutdown:
			h.closeAll()
			h.logger.Info("Notification hub stopped")
			return
		default:
			// frames and control commands never reach the notify queue
		}
	}
}

// HandleWS upgrades the connection and registers the client. The read
// loop only exists to notice the peer going away.
func (h *NotificationHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Notification client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("clients", count))

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// LastStats returns the most recent stats event, or nil before the first.
func (h *NotificationHub) LastStats() *pipeline.StatsEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStats
}

// ClientCount returns the number of connected websocket clients.
func (h *NotificationHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *NotificationHub) broadcast(n notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(n); err != nil {
			h.logger.Warn("Dropping notification client", zap.Error(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *NotificationHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.clients, conn)
}

func (h *NotificationHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn := range h.clients {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		delete(h.clients, conn)
	}
}
