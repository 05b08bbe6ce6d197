package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modelmux/modelmux/pkg/events"
	"github.com/modelmux/modelmux/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsAllowedOrigins are the scheme-qualified prefixes browser clients may
// connect from. Non-browser clients send no Origin and pass.
var wsAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
	"ws://localhost",
	"wss://localhost",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range wsAllowedOrigins {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}
		logger.WarnCF("ws", "Rejected connection from disallowed origin", map[string]interface{}{
			"origin": origin,
		})
		return false
	},
}

// WSHub fans observer events out to every connected WebSocket client. Slow
// clients are dropped rather than allowed to stall the broadcast loop.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan events.Event
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
}

// NewWSHub creates an event fan-out hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// Run drives the hub until ctx is cancelled. Once it returns, nobody
// receives on register/unregister again; done is closed so senders can
// bail out instead of blocking forever.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.DebugC("ws", "Client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Back-pressure: a full buffer means the client is not
					// keeping up. Drop it.
					go client.detach()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for all connected clients. Never blocks; when
// the hub itself is saturated the event is dropped.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	select {
	case h.broadcast <- events.New(eventType, "gateway", data):
	default:
		logger.WarnC("ws", "Broadcast buffer full, dropping event")
	}
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("ws", "Upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	client := &WSClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// WSClient is one observer connection.
type WSClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte
}

// detach hands the client back to the hub for removal. Returns immediately
// if the hub has already shut down.
func (c *WSClient) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump discards inbound frames; the tap is one-directional. It exists
// to service pings and detect disconnects.
func (c *WSClient) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
