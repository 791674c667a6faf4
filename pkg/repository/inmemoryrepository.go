// Package repository keeps the registry of live game sessions
package repository

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/pvp-server/pkg/game"
)

// ErrSessionNotFound is returned when no session is registered under an id
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository stores the sessions that are currently being played
type SessionRepository interface {
	Save(session *game.Session) error
	Get(id uuid.UUID) (*game.Session, error)
	ByParticipant(participantID uuid.UUID) (*game.Session, bool)
	Remove(id uuid.UUID) bool
	ListActive() []*game.Session
	Len() int
}

// InMemorySessionRepository is an in-memory implementation of SessionRepository. Each participant maps to
// at most one session.
type InMemorySessionRepository struct {
	sessions      map[uuid.UUID]*game.Session
	byParticipant map[uuid.UUID]uuid.UUID
	mu            sync.RWMutex
	logger        *zap.Logger
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository(logger *zap.Logger) *InMemorySessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemorySessionRepository{
		sessions:      make(map[uuid.UUID]*game.Session),
		byParticipant: make(map[uuid.UUID]uuid.UUID),
		logger:        logger,
	}
}

// Save registers a session under its id and indexes both of its players
func (r *InMemorySessionRepository) Save(session *game.Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID()] = session
	r.byParticipant[session.White().ID()] = session.ID()
	r.byParticipant[session.Black().ID()] = session.ID()

	r.logger.Debug("session saved", zap.String("game_id", session.ID().String()))
	return nil
}

// Get retrieves a session by id
func (r *InMemorySessionRepository) Get(id uuid.UUID) (*game.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// ByParticipant returns the session the participant currently plays in
func (r *InMemorySessionRepository) ByParticipant(participantID uuid.UUID) (*game.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byParticipant[participantID]
	if !ok {
		return nil, false
	}

	session, ok := r.sessions[id]
	return session, ok
}

// Remove drops a session and its participant index. It reports whether anything was removed.
func (r *InMemorySessionRepository) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)

	// a player may already be indexed to a newer session
	for _, p := range []game.Participant{session.White(), session.Black()} {
		if r.byParticipant[p.ID()] == id {
			delete(r.byParticipant, p.ID())
		}
	}

	r.logger.Debug("session removed", zap.String("game_id", id.String()))
	return true
}

// ListActive returns all sessions that still accept moves
func (r *InMemorySessionRepository) ListActive() []*game.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*game.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Active() {
			active = append(active, s)
		}
	}

	return active
}

// Len returns the number of registered sessions
func (r *InMemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
