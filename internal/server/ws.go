package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/menta2k/squarecrop/pkg/editor"
	"github.com/menta2k/squarecrop/pkg/registry"
)

const writeWait = 5 * time.Second

// Message types sent to WebSocket clients
const (
	messageState = "state"
	messageEvent = "event"
)

type message struct {
	Type  string          `json:"type"`
	State *editor.State   `json:"state,omitempty"`
	Event *registry.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// wsClient serializes writes to one connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// hub tracks connected clients for broadcasts.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: make(map[*wsClient]struct{}), logger: logger}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *hub) broadcast(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.send(msg); err != nil {
			h.logger.Warn("Failed to broadcast to client", "err", err)
			c.conn.Close()
			delete(h.clients, c)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// handleWebSocket streams pointer events in and view state out. Every event
// is answered with a state message; registry changes are broadcast to all
// clients as event messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}
	s.hub.add(client)
	defer func() {
		s.hub.remove(client)
		conn.Close()
	}()

	st := s.view.State()
	if err := client.send(message{Type: messageState, State: &st}); err != nil {
		return
	}

	for {
		var ev pointerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "err", err)
			}
			return
		}

		st, err := s.applyPointer(ev)
		reply := message{Type: messageState, State: &st}
		if err != nil {
			reply.Error = err.Error()
		}
		if err := client.send(reply); err != nil {
			s.logger.Warn("WebSocket write failed", "err", err)
			return
		}
	}
}
