// Package server is the websocket transport: connection pumps and the hub loop that serializes
// registration and inbound dispatch.
package server

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/events"
	"github.com/tecu23/pvp-server/pkg/manager"
	"github.com/tecu23/pvp-server/pkg/messages"
)

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // decoded envelope, payload still raw
}

// HubParams configures a Hub
type HubParams struct {
	Manager            *manager.Manager
	DefaultTimeControl clock.TimeControl
	SendBuffer         int
	Publisher          *events.Publisher
	Logger             *zap.Logger
}

// Hub keeps track of all active connections. Registration, unregistration and inbound messages are
// handled one at a time by Run and routed to the manager.
type Hub struct {
	mu          sync.RWMutex         // Mutex to protect direct access to the connections map.
	connections map[*Connection]bool // Registered connections

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Channel of inbound messages routed to the manager

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	manager            *manager.Manager
	defaultTimeControl clock.TimeControl
	sendBuffer         int
	publisher          *events.Publisher
	logger             *zap.Logger
}

// NewHub creates a new hub
func NewHub(params HubParams) *Hub {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		connections:        make(map[*Connection]bool),
		register:           make(chan *Connection),
		unregister:         make(chan *Connection),
		inbound:            make(chan InboundHubMessage, 64),
		quit:               make(chan struct{}),
		done:               make(chan struct{}),
		manager:            params.Manager,
		defaultTimeControl: params.DefaultTimeControl,
		sendBuffer:         params.SendBuffer,
		publisher:          params.Publisher,
		logger:             logger,
	}
}

// Run is the main execution of the hub. It returns when ctx is cancelled or Shutdown is called, after
// disconnecting every registered connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case <-ctx.Done():
			return

		case <-h.quit:
			return
		}
	}
}

// Shutdown stops Run and waits for it to finish
func (h *Hub) Shutdown() {
	h.quitOnce.Do(func() { close(h.quit) })
	<-h.done
}

// Serve wraps an upgraded websocket in a Connection, registers it and starts its pumps
func (h *Hub) Serve(ws *websocket.Conn) *Connection {
	conn := NewConnection(ws, h, h.sendBuffer, h.logger)
	if !h.Register(conn) {
		conn.closeTransport()
		return conn
	}

	go conn.WritePump()
	go conn.ReadPump()

	return conn
}

// Register hands conn to the hub loop. It reports false once the hub has stopped.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister hands conn to the hub loop for removal
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Inbound queues a message for dispatch. It reports false once the hub has stopped.
func (h *Hub) Inbound(msg InboundHubMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Len returns the number of registered connections
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	count := len(h.connections)
	h.mu.Unlock()

	h.manager.Connect(conn)

	h.publisher.Publish(events.Event{
		Type:    events.EventConnectionOpened,
		Payload: map[string]string{"connection_id": conn.ID().String()},
	})

	h.logger.Debug("connection registered",
		zap.String("connection_id", conn.ID().String()),
		zap.Int("connections", count),
	)
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn]
	delete(h.connections, conn)
	count := len(h.connections)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.manager.Disconnect(conn)
	conn.Close()

	h.publisher.Publish(events.Event{
		Type:    events.EventConnectionClosed,
		Payload: map[string]string{"connection_id": conn.ID().String()},
	})

	h.logger.Debug("connection unregistered",
		zap.String("connection_id", conn.ID().String()),
		zap.Int("connections", count),
	)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.unregisterConnection(conn)
		conn.closeTransport()
	}

	h.logger.Info("hub stopped", zap.Int("closed_connections", len(conns)))
}

// handleInbound decodes the payload by message type and routes it. Unknown types and malformed payloads
// are dropped.
func (h *Hub) handleInbound(msg InboundHubMessage) {
	h.mu.RLock()
	registered := h.connections[msg.Conn]
	h.mu.RUnlock()
	if !registered {
		return
	}

	logger := h.logger.With(
		zap.String("connection_id", msg.Conn.ID().String()),
		zap.String("type", msg.Message.Type),
	)

	switch msg.Message.Kind() {
	case messages.TypeRequestGame:
		tc, err := messages.DecodeRequestGame(msg.Message.Payload, h.defaultTimeControl)
		if err != nil {
			logger.Debug("invalid request-game payload", zap.Error(err))
			return
		}
		h.manager.RequestGame(msg.Conn, tc)

	case messages.TypeMove:
		move, err := messages.DecodeMove(msg.Message.Payload)
		if err != nil {
			logger.Debug("invalid move payload", zap.Error(err))
			return
		}
		h.manager.Move(msg.Conn, move)

	case messages.TypeQueryLegalMoves:
		square, err := messages.DecodeQueryLegalMoves(msg.Message.Payload)
		if err != nil {
			logger.Debug("invalid query-legal-moves payload", zap.Error(err))
			return
		}
		h.manager.QueryLegalMoves(msg.Conn, square)

	default:
		logger.Debug("unknown message type dropped", zap.Error(messages.ErrUnknownType))
	}
}
