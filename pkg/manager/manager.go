// Package manager routes participant actions to the matchmaker or to the session they play in, and
// cleans up after disconnects.
package manager

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/events"
	"github.com/tecu23/pvp-server/pkg/game"
	"github.com/tecu23/pvp-server/pkg/matchmaker"
	"github.com/tecu23/pvp-server/pkg/messages"
	"github.com/tecu23/pvp-server/pkg/repository"
	"github.com/tecu23/pvp-server/pkg/rules"
)

// Manager tracks connected participants and routes their actions to the matchmaker or their session
type Manager struct {
	connected map[uuid.UUID]game.Participant
	mu        sync.RWMutex

	matchmaker *matchmaker.Matchmaker
	sessions   repository.SessionRepository

	publisher *events.Publisher
	logger    *zap.Logger
}

// NewManager creates a manager on top of a matchmaker and the session registry it fills
func NewManager(
	logger *zap.Logger,
	publisher *events.Publisher,
	mm *matchmaker.Matchmaker,
	sessions repository.SessionRepository,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &Manager{
		connected:  make(map[uuid.UUID]game.Participant),
		matchmaker: mm,
		sessions:   sessions,
		logger:     logger,
		publisher:  publisher,
	}

	// Set up event handlers
	manager.setupEventHandlers()

	return manager
}

// setupEventHandlers drops finished sessions from the registry
func (m *Manager) setupEventHandlers() {
	if m.publisher == nil {
		return
	}

	m.publisher.Subscribe(events.EventGameTerminated, func(event events.Event) {
		if event.GameID == "" {
			return
		}

		gameID, err := uuid.Parse(event.GameID)
		if err != nil {
			m.logger.Error("Invalid game ID in game terminated event", zap.Error(err))
			return
		}
		m.RemoveSession(gameID)
	})
}

// Connect adds p to the connected set
func (m *Manager) Connect(p game.Participant) {
	m.mu.Lock()
	m.connected[p.ID()] = p
	count := len(m.connected)
	m.mu.Unlock()

	m.logger.Info("participant connected",
		zap.String("player_id", p.ID().String()),
		zap.Int("connected", count),
	)
}

// Disconnect removes p, withdraws any pending request and ends the session p was playing
func (m *Manager) Disconnect(p game.Participant) {
	m.mu.Lock()
	_, known := m.connected[p.ID()]
	delete(m.connected, p.ID())
	m.mu.Unlock()

	if !known {
		return
	}

	if m.matchmaker.Cancel(p) {
		m.logger.Debug("pending request cancelled", zap.String("player_id", p.ID().String()))
	}

	if session, ok := m.sessions.ByParticipant(p.ID()); ok {
		session.HandleDisconnect(p)
		m.RemoveSession(session.ID())
	}

	m.logger.Info("participant disconnected", zap.String("player_id", p.ID().String()))
}

// IsConnected reports whether p is in the connected set
func (m *Manager) IsConnected(p game.Participant) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.connected[p.ID()]
	return ok
}

// ConnectedCount returns the size of the connected set
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.connected)
}

// RequestGame hands p to the matchmaker unless p is already playing
func (m *Manager) RequestGame(p game.Participant, tc clock.TimeControl) (*game.Session, bool) {
	if !m.IsConnected(p) {
		m.logger.Debug("request from unknown participant dropped", zap.String("player_id", p.ID().String()))
		return nil, false
	}
	if m.activeSession(p) != nil {
		m.logger.Debug("request while playing dropped", zap.String("player_id", p.ID().String()))
		return nil, false
	}

	return m.matchmaker.RequestGame(p, tc)
}

// Move forwards a move to the session p plays in. Moves without an active session are dropped.
func (m *Manager) Move(p game.Participant, move rules.Move) bool {
	session := m.activeSession(p)
	if session == nil {
		m.logger.Debug("move without session dropped", zap.String("player_id", p.ID().String()))
		return false
	}

	return session.ApplyMove(p, move)
}

// QueryLegalMoves answers p with the legal moves from square. Queries without an active session are
// dropped.
func (m *Manager) QueryLegalMoves(p game.Participant, square string) {
	session := m.activeSession(p)
	if session == nil {
		m.logger.Debug("legal moves query without session dropped", zap.String("player_id", p.ID().String()))
		return
	}

	p.Send(messages.LegalMoves(square, session.LegalMoves(p, square)))
}

// GetSession returns a session by ID
func (m *Manager) GetSession(id uuid.UUID) (*game.Session, bool) {
	session, err := m.sessions.Get(id)
	if err != nil {
		return nil, false
	}

	return session, true
}

// RemoveSession cleans up a finished session
func (m *Manager) RemoveSession(id uuid.UUID) {
	if m.sessions.Remove(id) {
		m.logger.Info("removed game session", zap.String("game_id", id.String()))
	}
}

// activeSession is nil when p plays nowhere or its session already ended but is not yet removed.
func (m *Manager) activeSession(p game.Participant) *game.Session {
	session, ok := m.sessions.ByParticipant(p.ID())
	if !ok || !session.Active() {
		return nil
	}

	return session
}
