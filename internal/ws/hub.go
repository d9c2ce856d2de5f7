package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

func newClient(sessionID string, conn *websocket.Conn) *client {
	c := &client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Hub tracks connected clients by session so plot pushes reach only the
// browser that owns the session. Unlike a broadcast fan-out there is
// normally exactly one client per session, but nothing prevents a second
// tab from attaching to the same session ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
	}
}

func (h *Hub) AddClient(sessionID string, conn *websocket.Conn) *client {
	c := newClient(sessionID, conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Send marshals msg and queues it to every client attached to sessionID.
// Clients that cannot keep up are disconnected.
func (h *Hub) Send(sessionID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: marshal error: %v", err)
		return
	}

	// Queue while holding the read lock: RemoveClient closes send under
	// the write lock, so a client present in the map here cannot be
	// closed out from under us.
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.sessionID != sessionID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("ws: client too slow, disconnecting (session=%s)", sessionID)
		h.RemoveClient(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
