package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/marketpilot/marketpilot/internal/engine"
	"github.com/marketpilot/marketpilot/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect from anywhere; auth lives outside this layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans engine events out to connected dashboard clients. It implements
// engine.Publisher; Publish never blocks the engine — a client that cannot
// keep up is dropped.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan engine.Event
	done       chan struct{}
	closeOnce  sync.Once
	log        *logging.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan engine.Event
}

// NewHub creates an event hub. Call Run before publishing.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan engine.Event, 256),
		done:       make(chan struct{}),
		log:        logging.ForComponent("events"),
	}
}

// Run processes registrations and broadcasts until Close.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("dashboard connected (%d total)", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case e := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- e:
				default:
					// Slow consumer; drop it rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Publish implements engine.Publisher.
func (h *Hub) Publish(e engine.Event) {
	select {
	case h.broadcast <- e:
	case <-h.done:
	default:
		h.log.Warn("event feed backlogged, dropping %s", e.Type)
	}
}

// Close shuts the hub down and disconnects all clients.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// HandleWebSocket upgrades the connection and streams events.
// GET /ws
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan engine.Event, 64)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop(h)
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for e := range c.send {
		if err := c.conn.WriteJSON(e); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames; the feed is one-way. Its job is to
// notice the client going away.
func (c *wsClient) readLoop(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
