package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/pvp-server/pkg/messages"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// DefaultSendBuffer is the outbound queue length of a connection
	DefaultSendBuffer = 256
)

// Connection is one websocket client. It is the participant handle that sessions and the matchmaker hold.
type Connection struct {
	id   uuid.UUID
	ws   *websocket.Conn // The underlying Websocket connection
	hub  *Hub
	send chan []byte // Buffered channel of outbound messages.

	mu     sync.Mutex // guards closed and sends on the send channel
	closed bool

	logger *zap.Logger
}

// NewConnection wraps an upgraded websocket. A non-positive sendBuffer uses DefaultSendBuffer.
func NewConnection(ws *websocket.Conn, hub *Hub, sendBuffer int, logger *zap.Logger) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.New()
	return &Connection{
		id:     id,
		ws:     ws,
		hub:    hub,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With(zap.String("connection_id", id.String())),
	}
}

// ID returns the identity assigned at accept time
func (c *Connection) ID() uuid.UUID { return c.id }

// Send queues a message without blocking. When the queue is full the message is dropped and the
// transport is closed, which the read pump turns into a disconnect.
func (c *Connection) Send(msg messages.OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Error marshaling JSON", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping connection", zap.String("type", msg.Type))
		c.closeTransport()
	}
}

// Close stops the write pump. Later sends are discarded.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) closeTransport() {
	if c.ws != nil {
		c.ws.Close()
	}
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeTransport()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Debug("Failed to parse inbound JSON", zap.Error(err))
			continue
		}

		if !c.hub.Inbound(InboundHubMessage{Conn: c, Message: inbound}) {
			return
		}
	}
}

// WritePump handles outbound messages to the client and keeps the peer alive with pings
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				c.logger.Debug("Send channel closed for connection")
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
