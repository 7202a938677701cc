package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ConnectionManager manages WebSocket connections and channel subscriptions.
// One instance per process.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads
// and writes happen on the single goroutine that owns this connection
// (HandleConnection's read loop and its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, ServerMessage{Type: "connection.established", Payload: map[string]any{
		"connection_id": connID,
	}})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// Broadcast sends an event payload to all connections subscribed to the
// given channel.
func (m *ConnectionManager) Broadcast(channel string, msg ServerMessage) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists || len(connIDs) == 0 {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	msg.Channel = channel
	for _, id := range ids {
		m.mu.RLock()
		c, ok := m.connections[id]
		m.mu.RUnlock()
		if ok {
			m.sendJSON(c, msg)
		}
	}
}

// handleClientMessage processes subscribe/unsubscribe/ping requests.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Channel == "" {
			return
		}
		c.subscriptions[msg.Channel] = true
		m.channelMu.Lock()
		if m.channels[msg.Channel] == nil {
			m.channels[msg.Channel] = make(map[string]bool)
		}
		m.channels[msg.Channel][c.ID] = true
		m.channelMu.Unlock()
		m.sendJSON(c, ServerMessage{Type: "subscribed", Channel: msg.Channel})

	case "unsubscribe":
		delete(c.subscriptions, msg.Channel)
		m.channelMu.Lock()
		if subs, ok := m.channels[msg.Channel]; ok {
			delete(subs, c.ID)
			if len(subs) == 0 {
				delete(m.channels, msg.Channel)
			}
		}
		m.channelMu.Unlock()
		m.sendJSON(c, ServerMessage{Type: "unsubscribed", Channel: msg.Channel})

	case "ping":
		m.sendJSON(c, ServerMessage{Type: "pong"})
	}
}

// sendJSON writes a message with the configured write timeout.
func (m *ConnectionManager) sendJSON(c *Connection, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()

	if err := c.Conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write failed, closing connection",
			"connection_id", c.ID, "error", err)
		c.cancel()
	}
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	slog.Debug("WebSocket connection registered", "connection_id", c.ID)
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	c.cancel()

	m.channelMu.Lock()
	for channel := range c.subscriptions {
		if subs, ok := m.channels[channel]; ok {
			delete(subs, c.ID)
			if len(subs) == 0 {
				delete(m.channels, channel)
			}
		}
	}
	m.channelMu.Unlock()

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	slog.Debug("WebSocket connection unregistered", "connection_id", c.ID)
}

// ConnectionCount returns the number of live connections.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}
