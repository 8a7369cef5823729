// Package stream broadcasts env-state frames to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/batchsim/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the router's CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans frames out to every connected client. Slow clients lose
// frames rather than stall the simulator.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex

	maxClients int
	onCount    func(int)
}

// NewHub creates a hub accepting at most maxClients connections.
// onCount, if not nil, is called with the client count after every
// change.
func NewHub(maxClients int, onCount func(int)) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		maxClients: maxClients,
		onCount:    onCount,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			slog.Info("stream client connected", "remote", conn.RemoteAddr().String(), "clients", n)
			h.countChanged(n)

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	conn.Close()
	slog.Info("stream client disconnected", "clients", n)
	h.countChanged(n)
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// Publish queues a frame of states for every client. It copies states
// before returning. The frame is dropped when nobody listens or the
// queue is full.
func (h *Hub) Publish(step int, states []sim.EnvironmentState) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(NewFrame(step, states))
	if err != nil {
		slog.Error("encoding stream frame", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection. Clients
// only listen; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxClients {
		http.Error(w, "too many stream clients", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream upgrade failed", "error", err)
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
