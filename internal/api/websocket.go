package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/infrastructure/config"
	"github.com/odin-detector/odin-control/internal/infrastructure/logging"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypeGet         = "get"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelAdapterUpdated carries the snapshot after each periodic update.
	ChannelAdapterUpdated = "adapter.updated"

	// ChannelAdapterWritten carries the outcome of each PUT or POST.
	ChannelAdapterWritten = "adapter.written"

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
// Adapters narrows a subscription to the named adapters; empty means all.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Adapters []string `json:"adapters,omitempty"`
}

// WSGetPayload is the payload of a get message. The read goes through the
// same dispatcher as GET /api/{version}/{adapter}/{path}.
type WSGetPayload struct {
	Adapter  string `json:"adapter"`
	Path     string `json:"path"`
	Metadata bool   `json:"metadata,omitempty"`
}

// UpdateEvent is the payload of an adapter.updated event.
type UpdateEvent struct {
	Adapter string `json:"adapter"`
	Data    any    `json:"data"`
}

// WrittenEvent is the payload of an adapter.written event.
type WrittenEvent struct {
	Adapter   string `json:"adapter"`
	Path      string `json:"path"`
	Method    string `json:"method"`
	Source    string `json:"source,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// dispatcher serves get messages. Nil rejects them.
	dispatcher *adapter.Dispatcher

	// onCount, if set, is told the client count after every change.
	onCount func(int)
}

// adapterFilter is the set of adapters a subscription covers. A nil
// filter covers every adapter.
type adapterFilter map[string]struct{}

func newAdapterFilter(names []string) adapterFilter {
	if len(names) == 0 {
		return nil
	}
	f := make(adapterFilter, len(names))
	for _, n := range names {
		f[n] = struct{}{}
	}
	return f
}

func (f adapterFilter) covers(name string) bool {
	if f == nil {
		return true
	}
	_, ok := f[name]
	return ok
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]adapterFilter
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.countChanged(n)
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.countChanged(n)
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends an event about adapterName to every client subscribed to
// channel for that adapter. The hub lock is released before per-client
// subscription checks so the two locks are never held together.
func (h *Hub) Broadcast(channel, adapterName string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel, adapterName) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "adapter", adapterName, "recipients", sentCount)
	}
}

// PublishUpdate broadcasts a post-update snapshot. Its signature matches
// scheduler.UpdateHook.
func (h *Hub) PublishUpdate(_ context.Context, adapterName string, snapshot any) {
	h.Broadcast(ChannelAdapterUpdated, adapterName, UpdateEvent{Adapter: adapterName, Data: snapshot})
}

// PublishWrite broadcasts the outcome of a write. Its signature matches
// adapter.WriteHook.
func (h *Hub) PublishWrite(_ context.Context, ev adapter.WriteEvent) {
	payload := WrittenEvent{
		Adapter:   ev.Adapter,
		Path:      ev.Request.Path.String(),
		Method:    ev.Request.Method,
		Source:    ev.Request.Source,
		RequestID: ev.Request.RequestID,
		OK:        ev.Err == nil,
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	} else {
		payload.Data = ev.Response.Data
	}
	h.Broadcast(ChannelAdapterWritten, ev.Adapter, payload)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.mu.Unlock()
	h.countChanged(0)
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]adapterFilter),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
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
		// Any client message keeps the connection alive, even from
		// clients that ignore protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscription(msg, true)
	case WSTypeUnsubscribe:
		c.handleSubscription(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case WSTypeGet:
		c.handleGet(msg)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription adds or removes channels from the client's
// subscription list.
func (c *WSClient) handleSubscription(msg WSMessage, subscribe bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscription payload")
		return
	}

	filter := newAdapterFilter(sub.Adapters)
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.subscriptions[ch] = filter
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
		c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels, "adapters", sub.Adapters)
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed reports whether the client wants channel events about
// adapterName.
func (c *WSClient) isSubscribed(channel, adapterName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[channel]
	return ok && filter.covers(adapterName)
}

// handleGet reads a parameter path and answers with its value. It runs on
// the read pump, so a slow adapter delays only this client.
func (c *WSClient) handleGet(msg WSMessage) {
	if c.hub.dispatcher == nil {
		c.sendError(msg.ID, "get is not available")
		return
	}

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var get WSGetPayload
	if err := json.Unmarshal(payloadBytes, &get); err != nil || get.Adapter == "" {
		c.sendError(msg.ID, "get requires an adapter")
		return
	}

	resp, err := c.hub.dispatcher.Dispatch(context.Background(), get.Adapter, adapter.Request{
		Method:       http.MethodGet,
		Path:         paramtree.ParsePath(get.Path),
		WithMetadata: get.Metadata,
		RequestID:    uuid.NewString(),
		Source:       "websocket",
	})
	if err != nil {
		status, code := classify(err)
		c.sendResponse(msg.ID, WSTypeError, map[string]any{
			"status":  status,
			"code":    code,
			"message": err.Error(),
		})
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, resp.Data)
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
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

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
