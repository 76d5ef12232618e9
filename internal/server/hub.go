package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Message types pushed over the WebSocket
const (
	MsgTypePlayback = "playback" // server -> client state update
	MsgTypeSync     = "sync"     // client -> server request for current state
	MsgTypeError    = "error"
)

// WSMessage is the WebSocket envelope
type WSMessage struct {
	Type      string         `json:"type"`
	Command   string         `json:"command,omitempty"`
	Data      *stateResponse `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// wsClient is one WebSocket connection
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans playback updates out to every connected WebSocket client
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	broadcast chan []byte
}

// NewHub creates a Hub. Run must be started for it to deliver anything.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:    logger.With().Str("component", "ws").Logger(),
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan []byte, 64),
	}
}

// Run is the hub loop. It closes every client when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client; drop it rather than stall everyone
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("clients", n).Msg("Client connected")
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a snapshot for every client. It never blocks; updates
// are dropped when the queue is full.
func (h *Hub) Broadcast(command string, snap player.Snapshot) {
	data, err := encodeMessage(WSMessage{Type: MsgTypePlayback, Command: command, Data: newStateResponse(snap)})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode broadcast")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("Broadcast queue full, dropping update")
	}
}

// Listener returns a player listener that broadcasts every change
func (h *Hub) Listener() player.Listener {
	return func(ctx context.Context, c player.Change) {
		h.Broadcast(c.Token, c.Snapshot)
	}
}

func encodeMessage(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UnixMilli()
	return json.Marshal(msg)
}

// queue sends data to this client only, dropping it if the buffer is full.
// The hub closes send under its lock, so holding the read lock here keeps
// the send from racing the close.
func (c *wsClient) queue(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump handles inbound messages until the connection fails
func (c *wsClient) readPump(onSync func() []byte) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if isSyncRequest(message) {
			if data := onSync(); data != nil {
				c.queue(data)
			}
		}
	}
}

// isSyncRequest accepts either the bare word "sync" or {"type":"sync"}
func isSyncRequest(message []byte) bool {
	if string(message) == MsgTypeSync {
		return true
	}
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return false
	}
	return msg.Type == MsgTypeSync
}

// writePump drains send onto the connection and keeps it alive with pings
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
