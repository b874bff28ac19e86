package server

import (
	"log"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/yourusername/ctp-bridge/pkg/event"
)

// WebSocketMessage represents a message sent to websocket clients
type WebSocketMessage struct {
	Type      string      `json:"type"` // event type name, or "ping"
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// eventPayload is the wire form of one lifecycle event.
type eventPayload struct {
	Order *OrderDetail `json:"order,omitempty"`
	Trade interface{}  `json:"trade,omitempty"`
}

// Hub manages websocket connections and fans lifecycle events out to them.
// BroadcastEvent never blocks the execution goroutine: when the broadcast
// queue is full the event is dropped for the stream (the HTTP endpoints
// remain authoritative).
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan *WebSocketMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan *WebSocketMessage, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the connection manager.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
	log.Printf("[WebSocket] Hub started")
}

// Stop closes all client connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)

	for client := range h.clients {
		client.Close()
	}
	log.Printf("[WebSocket] Hub stopped")
}

// BroadcastEvent pushes one domain event to all clients. Safe to use as a
// bus handler.
func (h *Hub) BroadcastEvent(e event.Event) {
	h.mu.RLock()
	running := h.running
	empty := len(h.clients) == 0
	h.mu.RUnlock()
	if !running || empty {
		return
	}

	payload := &eventPayload{}
	if e.Order != nil {
		payload.Order = orderDetail(e.Order)
	}
	if e.Trade != nil {
		payload.Trade = e.Trade
	}
	msg := &WebSocketMessage{
		Type:      e.Type.String(),
		Timestamp: e.Time.Format(time.RFC3339Nano),
		Data:      payload,
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s", msg.Type)
	}
}

// run manages client connections
func (h *Hub) run() {
	for {
		select {
		case <-h.stopCh:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Client connected, total: %d", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Client disconnected, total: %d", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go func(c *websocket.Conn, msg *WebSocketMessage) {
					if err := websocket.JSON.Send(c, msg); err != nil {
						log.Printf("[WebSocket] Send error: %v", err)
						h.unregister <- c
					}
				}(client, message)
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket handles one websocket connection.
func (h *Hub) HandleWebSocket(ws *websocket.Conn) {
	h.register <- ws

	// heartbeat
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				if err := websocket.JSON.Send(ws, &WebSocketMessage{
					Type:      "ping",
					Timestamp: time.Now().Format(time.RFC3339),
				}); err != nil {
					h.unregister <- ws
					return
				}
			}
		}
	}()

	// read loop; clients only send pongs
	for {
		var msg map[string]interface{}
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			h.unregister <- ws
			break
		}
	}
}
