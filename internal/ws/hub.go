// Package ws provides a topic-based WebSocket hub for streaming trade and
// price events to connected clients.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message wraps a payload with the topic it was published on.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Client represents a single WebSocket connection and its subscriptions.
type Client struct {
	conn *websocket.Conn
	send chan Message
	hub  *Hub

	mu            sync.Mutex
	subscriptions map[string]struct{}
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Hub fans published messages out to subscribed clients. Slow consumers
// are dropped rather than allowed to block the broadcast loop.
type Hub struct {
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	closeOnce  sync.Once

	clients  map[*Client]struct{}
	upgrader websocket.Upgrader
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.subscribed(msg.Topic) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// drop slow client
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Publish marshals the payload and broadcasts it to subscribers of topic.
// It never blocks the caller; a full broadcast queue drops the message.
func (h *Hub) Publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("Failed to marshal broadcast payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- Message{Topic: topic, Data: data}:
	case <-h.done:
	default:
		h.logger.Warn("Broadcast queue full, dropping message", zap.String("topic", topic))
	}
}

// Close shuts down the broadcast loop and disconnects all clients.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeWS upgrades the HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		conn:          conn,
		send:          make(chan Message, 64),
		hub:           h,
		subscriptions: make(map[string]struct{}),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump handles subscription requests of the form
// {"subscribe":["trades"]} / {"unsubscribe":["prices"]}.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string][]string
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		c.mu.Lock()
		for _, topic := range req["subscribe"] {
			c.subscriptions[topic] = struct{}{}
		}
		for _, topic := range req["unsubscribe"] {
			delete(c.subscriptions, topic)
		}
		c.mu.Unlock()
	}
}

// writePump sends messages and heartbeats to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
