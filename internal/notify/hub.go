// README: WebSocket hub streaming ride progress to connected passengers.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

const (
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub holds live passenger connections. A passenger may hold several.
type Hub struct {
	mu      sync.RWMutex
	clients  map[types.ID]map[*client]struct{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub accepts browser connections only from allowedOrigins, the same list
// the HTTP CORS policy uses. An empty list or "*" allows any origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[types.ID]map[*client]struct{}),
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool { return strings.EqualFold(o, origin) })
	}
}

// Serve upgrades the request and blocks until the connection ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, passengerID types.ID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "passenger_id", passengerID, "error", err)
		return
	}
	defer conn.Close()

	c := &client{send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.register(passengerID, c)
	defer h.unregister(passengerID, c)
	h.logger.Info("passenger connected", "passenger_id", passengerID)

	go h.writer(conn, c)
	h.reader(conn, c)
	h.logger.Info("passenger disconnected", "passenger_id", passengerID)
}

// NotifyRideProgress queues progress for every connection of the passenger.
// A passenger with no open connection is not an error.
func (h *Hub) NotifyRideProgress(_ context.Context, p tracking.Progress) error {
	return h.Send(p.PassengerID, Message{Type: "ride_progress", Data: p})
}

func (h *Hub) Send(passengerID types.ID, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[passengerID] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("passenger send buffer full, dropping message", "passenger_id", passengerID)
		}
	}
	return nil
}

// Connections returns the number of open connections for the passenger.
func (h *Hub) Connections(passengerID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[passengerID])
}

func (h *Hub) register(id types.ID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[id]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[id] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(id types.ID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[id], c)
	if len(h.clients[id]) == 0 {
		delete(h.clients, id)
	}
	c.close()
}

// reader drains inbound frames so pongs and close frames are processed.
func (h *Hub) reader(conn *websocket.Conn, c *client) {
	defer c.close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writer(conn *websocket.Conn, c *client) {
	defer c.close()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}
