package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CrimsonAJ/proxibase/internal/logging"
)

// logHub fans logging.LogEntry records out to every connected admin
// WebSocket client. Narrowed from the teacher's multi-event Hub (config
// updates, app health, dashboard health) down to the one event the admin
// surface actually streams live: log lines.
type logHub struct {
	mu      sync.RWMutex
	clients map[*logClient]bool
}

func newLogHub() *logHub {
	return &logHub{clients: make(map[*logClient]bool)}
}

func (h *logHub) register(c *logClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *logHub) unregister(c *logClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *logHub) broadcast(entry logging.LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		logging.Error("marshal log entry for broadcast", "source", "admin", "error", err.Error())
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it rather than block the broadcaster.
			go h.unregister(c)
		}
	}
}

func (h *logHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// pump subscribes to the log buffer and forwards every new entry to the hub
// until stop is closed.
func (h *logHub) pump(buf *logging.LogBuffer, stop <-chan struct{}) {
	ch := buf.Subscribe()
	defer buf.Unsubscribe(ch)
	for {
		select {
		case entry := <-ch:
			h.broadcast(entry)
		case <-stop:
			return
		}
	}
}

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

const (
	logClientWriteWait  = 10 * time.Second
	logClientPingPeriod = 30 * time.Second
	logClientPongWait   = 60 * time.Second
)

// logClient bridges one admin WebSocket connection to the hub.
type logClient struct {
	hub  *logHub
	conn *websocket.Conn
	send chan []byte
}

func newLogClient(hub *logHub, conn *websocket.Conn) *logClient {
	return &logClient{hub: hub, conn: conn, send: make(chan []byte, 256)}
}

// serveLogTail upgrades the request and runs the client's read/write pumps
// until the connection closes.
func serveLogTail(hub *logHub, w http.ResponseWriter, r *http.Request) {
	conn, err := logUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("log tail websocket upgrade failed", "source", "admin", "error", err.Error())
		return
	}

	client := newLogClient(hub, conn)
	hub.register(client)

	go client.writePump()
	client.readPump()
}

// readPump drains and discards client frames (the protocol is server-push
// only) and detects disconnects/pongs.
func (c *logClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(logClientPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(logClientPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *logClient) writePump() {
	ticker := time.NewTicker(logClientPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(logClientWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(logClientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
