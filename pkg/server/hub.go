package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The phone UI is served from anywhere during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is what the websocket pushes. Bubble events carry the released
// message; changed events only name what to refetch.
type Event struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversationId,omitempty"`
	Message        *chat.Message `json:"message,omitempty"`
	Topic          store.Topic   `json:"topic,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	// conversation, when set, filters bubble events.
	conversation string
	send         chan []byte
	closed       int32
}

func (c *client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.conn.Close()
	}
}

func (c *client) wants(ev Event) bool {
	return ev.Type != "bubble" || c.conversation == "" || c.conversation == ev.ConversationID
}

// Hub fans service bubbles and store changes out to websocket clients. A
// client that cannot keep up loses events instead of stalling the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Run relays events until ctx is done.
func (h *Hub) Run(ctx context.Context, svc *chat.Service, broker *store.Broker) {
	bubbles, cancelBubbles := svc.Subscribe(256)
	defer cancelBubbles()
	changes, cancelChanges := broker.Subscribe(256)
	defer cancelChanges()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-bubbles:
			if !ok {
				return
			}
			msg := ev.Message
			h.Broadcast(Event{Type: "bubble", ConversationID: ev.ConversationID, Message: &msg, Timestamp: time.Now()})
		case c, ok := <-changes:
			if !ok {
				return
			}
			h.Broadcast(Event{Type: "changed", ConversationID: c.ConversationID, Topic: c.Topic, Timestamp: c.At})
		}
	}
}

func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev) || atomic.LoadInt32(&c.closed) == 1 {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Warn().Str("conversation", c.conversation).Msg("Websocket client queue full, event dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and pumps events to it until it disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		conn:         conn,
		conversation: r.URL.Query().Get("conversation"),
		send:         make(chan []byte, sendBuffer),
	}
	h.register(c)
	log.Debug().Str("conversation", c.conversation).Msg("Websocket client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// readPump only watches for pongs and disconnects; clients never send data.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket closed unexpectedly")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
