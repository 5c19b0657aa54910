// Package live streams newly recorded events to open dashboards over WebSocket.
package live

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyppan/simple-site-analytics/internal/config"
	"github.com/cyppan/simple-site-analytics/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// ClientObserver is notified when the number of connected clients changes
type ClientObserver func(n int)

// Hub fans out events to subscribed dashboard clients
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan *models.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	observer   ClientObserver
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	domain string
	send   chan []byte
}

// NewHub creates and starts a hub. observer may be nil.
func NewHub(observer ClientObserver) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *models.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		observer:   observer,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	go h.run()
	return h
}

// checkOrigin accepts same-host browsers and non-browser clients
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	log.Printf("[LIVE] Rejected origin: %s (host: %s)", origin, r.Host)
	return false
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.notify()
			log.Println("[LIVE] Hub shutdown complete")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.notify()
			log.Printf("[LIVE] Client connected (%d total)", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.notify()
			log.Printf("[LIVE] Client disconnected (%d remaining)", h.ClientCount())

		case ev := <-h.broadcast:
			message, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[LIVE] Failed to encode event: %v", err)
				continue
			}
			sent := 0
			h.mu.Lock()
			for c := range h.clients {
				if c.domain != "" && c.domain != ev.Domain {
					continue
				}
				select {
				case c.send <- message:
					sent++
				default:
					// Client is not keeping up
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
			config.Debugf("[LIVE] Sent %s event for %s to %d clients", ev.EventType, ev.Domain, sent)
		}
	}
}

func (h *Hub) notify() {
	if h.observer != nil {
		h.observer(h.ClientCount())
	}
}

// Broadcast queues an event for delivery without blocking the caller
func (h *Hub) Broadcast(ev *models.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	default:
		log.Println("[LIVE] Broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop disconnects every client and stops the hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ServeWS upgrades the request and subscribes it to events for domain ("" for all)
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, domain string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[LIVE] Upgrade error: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, domain: domain, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump discards client messages and detects disconnects
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
