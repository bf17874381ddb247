// Package ws fans session lifecycle events out to the connected display
// clients over websockets.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
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

// Broadcaster tracks the connected display clients and delivers session
// events to all of them.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Emit broadcasts one event and reports whether any client was connected
// to receive it. The session state machine treats false as "nobody is
// watching the booth" and closes the session.
func (b *Broadcaster) Emit(event string, payload any) bool {
	data, err := json.Marshal(Message{Type: event, Payload: payload})
	if err != nil {
		log.Printf("ws: marshal error for %q: %v", event, err)
		return false
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return false
	}

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws: client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
	return true
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
