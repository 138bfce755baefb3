package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foxace/ajax-sync-core/internal/infrastructure/config"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/logging"
)

// Broadcast channels a client can subscribe to. There are exactly two:
// debounced change cycles and security notifications.
const (
	// ChannelState carries debounced change-set announcements.
	ChannelState = "state"

	// ChannelNotifications carries security notifications.
	ChannelNotifications = "notifications"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// subscription tracks which of the two channels a client opted into.
// Both start false; a client receives nothing until it subscribes.
type subscription struct {
	mu    sync.Mutex
	state bool
	notes bool
}

// set flips one channel flag. It reports false for a channel name that
// is not one of the two known channels, leaving the flags untouched.
func (s *subscription) set(channel string, on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch channel {
	case ChannelState:
		s.state = on
	case ChannelNotifications:
		s.notes = on
	default:
		return false
	}
	return true
}

func (s *subscription) wants(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch channel {
	case ChannelState:
		return s.state
	case ChannelNotifications:
		return s.notes
	}
	return false
}

// Hub tracks connected WebSocket clients and fans broadcast events out to
// the subscribed ones.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// wsClient is one connected WebSocket session: a read pump handling the
// subscribe protocol and a write pump draining the send buffer.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	subs subscription

	// keepAlive is the read deadline extension granted per pong or client
	// message; writeWait bounds each outbound write.
	keepAlive time.Duration
	writeWait time.Duration
	pingEvery time.Duration

	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Local read-only surface; origin restrictions are an operator concern.
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.closeSend()
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends one event to every client subscribed to the channel.
// The message is marshalled once and the client list snapshotted, so slow
// clients never hold the hub lock.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if !c.subs.wants(channel) {
			continue
		}
		c.trySend(data)
		sent++
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients. Closing the connections unblocks the
// read pumps; closing the send channels lets the write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
		c.conn.Close()
		delete(h.clients, c)
	}
}

// handleWebSocket upgrades the HTTP connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	pingEvery := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	client := &wsClient{
		hub:       s.hub,
		conn:      conn,
		keepAlive: pingEvery + pongWait,
		writeWait: pongWait,
		pingEvery: pingEvery,
		send:      make(chan []byte, wsSendBufferSize),
	}

	s.hub.register(client)

	go client.writePump()
	go client.readPump(int64(s.wsCfg.MaxMessageSize))
}

// readPump consumes client messages until the connection drops, keeping
// the read deadline fresh as long as the peer shows any sign of life.
func (c *wsClient) readPump(maxMessageSize int64) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.bumpReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.bumpReadDeadline()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// A client that talks but never answers pings still counts as alive.
		c.bumpReadDeadline()
		c.handleMessage(message)
	}
}

func (c *wsClient) bumpReadDeadline() {
	//nolint:errcheck // Best-effort deadline; a dead connection fails the next read
	c.conn.SetReadDeadline(time.Now().Add(c.keepAlive))
}

// writePump drains the send buffer and keeps the connection pinged. It owns
// all writes to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one incoming client message.
func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.updateSubscriptions(msg, true)
	case WSTypeUnsubscribe:
		c.updateSubscriptions(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateSubscriptions applies a subscribe or unsubscribe request. Unknown
// channel names are rejected; flags already applied for earlier names in
// the same request stay applied.
func (c *wsClient) updateSubscriptions(msg WSMessage, on bool) {
	var sub WSSubscribePayload
	if err := decodePayload(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	for _, name := range sub.Channels {
		if !c.subs.set(name, on) {
			c.sendError(msg.ID, "unknown channel: "+name)
			return
		}
	}

	key := "subscribed"
	if !on {
		key = "unsubscribed"
	}
	c.hub.logger.Debug("websocket subscriptions updated",
		"action", key,
		"channels", sub.Channels,
	)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// decodePayload re-marshals the untyped payload into its concrete shape.
func decodePayload(payload any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// closeSend closes the send channel exactly once. Further trySend calls
// become no-ops rather than sends on a closed channel.
func (c *wsClient) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend queues outbound data, dropping it when the client buffer is
// full or the session is already closed.
func (c *wsClient) trySend(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendResponse queues a protocol response to the client.
func (c *wsClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError queues a protocol error to the client.
func (c *wsClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
