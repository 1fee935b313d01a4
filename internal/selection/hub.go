package selection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxEventSize = 1 << 20

// Hub accepts the collaborator's websocket at /ws/events. Only one
// collaborator is connected at a time; a newer connection replaces the
// older one.
type Hub struct {
	ctrl           *Controller
	originPatterns []string
	logger         *slog.Logger

	mu     sync.Mutex
	active *websocket.Conn
}

// NewHub creates a Hub feeding ctrl. originPatterns are host patterns
// accepted for cross-origin connections.
func NewHub(ctrl *Controller, originPatterns []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{ctrl: ctrl, originPatterns: originPatterns, logger: logger}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil && h.active != conn {
		_ = h.active.Close(websocket.StatusNormalClosure, "collaborator replaced")
		h.logger.Info("Collaborator connection replaced")
	}
	h.active = conn
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == conn {
		h.active = nil
	}
}

// ServeHTTP upgrades the request and applies events until the connection
// closes. Malformed events are reported back and do not end the session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("Failed to accept collaborator websocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxEventSize)

	h.register(conn)
	defer h.unregister(conn)

	h.logger.Info("Collaborator connected", "remote", r.RemoteAddr)
	h.readLoop(r.Context(), conn)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Collaborator closed connection")
			} else {
				h.logger.Debug("Collaborator read ended", "error", err)
			}
			return
		}
		if err := h.ctrl.Apply(ev); err != nil {
			h.logger.Warn("Rejected collaborator event", "type", ev.Type, "error", err)
			if werr := wsjson.Write(ctx, conn, map[string]string{"error": err.Error()}); werr != nil {
				return
			}
		}
	}
}
