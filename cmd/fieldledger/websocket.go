package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub fans ledger activity out to every connected websocket client. It has
// no per-client filtering; the feed is small enough that clients filter
// locally.
type Hub struct {
	logger         *slog.Logger
	allowedOrigins []string // nil means allow all origins
	upgrader       websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*wsConnection
}

type wsConnection struct {
	clientID string
	conn     *websocket.Conn
	send     chan []byte
	closed   bool
	mu       sync.Mutex
}

// NewHub creates the feed hub.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		logger:         logger.With("component", "websocket"),
		allowedOrigins: allowedOrigins,
		connections:    make(map[string]*wsConnection),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the request origin against allowed origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(origin, allowed) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := allowed[1:]
			if strings.HasSuffix(strings.ToLower(origin), strings.ToLower(suffix)) {
				return true
			}
		}
	}

	h.logger.Warn("websocket connection rejected: origin not allowed",
		"origin", origin,
		"allowed_origins", h.allowedOrigins,
	)
	return false
}

// HandleConnect upgrades HTTP to WebSocket and manages the connection.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	wsc := &wsConnection{
		clientID: uuid.New().String(),
		conn:     conn,
		send:     make(chan []byte, 256),
	}

	h.mu.Lock()
	h.connections[wsc.clientID] = wsc
	h.mu.Unlock()

	h.logger.Info("websocket connected", "client_id", wsc.clientID)

	welcome := map[string]interface{}{
		"type":      "connected",
		"client_id": wsc.clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if data, err := json.Marshal(welcome); err == nil {
		wsc.send <- data
	}

	go h.readPump(wsc)
	go h.writePump(wsc)
}

// readPump drains the connection so close frames and pongs are processed.
// The feed is one-way; inbound messages other than ping are ignored.
func (h *Hub) readPump(wsc *wsConnection) {
	defer h.closeConnection(wsc)

	wsc.conn.SetReadLimit(4 * 1024)
	wsc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	wsc.conn.SetPongHandler(func(string) error {
		wsc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := wsc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", "client_id", wsc.clientID, "error", err)
			}
			break
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err == nil && msg.Type == "ping" {
			h.sendTo(wsc, []byte(`{"type":"pong"}`))
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (h *Hub) writePump(wsc *wsConnection) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		wsc.conn.Close()
	}()

	for {
		select {
		case message, ok := <-wsc.send:
			wsc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				wsc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := wsc.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := wsc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends raw bytes to every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, wsc := range h.connections {
		h.sendTo(wsc, data)
	}
}

// BroadcastJSON wraps the payload in the feed envelope and broadcasts it.
func (h *Hub) BroadcastJSON(kind string, payload interface{}) {
	data, err := json.Marshal(map[string]interface{}{
		"kind":      kind,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("broadcast marshal failed", "kind", kind, "error", err)
		return
	}
	h.Broadcast(data)
}

func (h *Hub) sendTo(wsc *wsConnection, data []byte) {
	select {
	case wsc.send <- data:
	default:
		h.logger.Warn("send channel full", "client_id", wsc.clientID)
	}
}

// closeConnection cleans up when a connection closes.
func (h *Hub) closeConnection(wsc *wsConnection) {
	wsc.mu.Lock()
	if wsc.closed {
		wsc.mu.Unlock()
		return
	}
	wsc.closed = true
	wsc.mu.Unlock()

	h.mu.Lock()
	delete(h.connections, wsc.clientID)
	h.mu.Unlock()

	close(wsc.send)
	wsc.conn.Close()

	h.logger.Info("websocket disconnected", "client_id", wsc.clientID)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
