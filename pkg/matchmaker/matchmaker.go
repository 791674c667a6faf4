// Package matchmaker pairs waiting participants that asked for the same time control.
package matchmaker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/events"
	"github.com/tecu23/pvp-server/pkg/game"
	"github.com/tecu23/pvp-server/pkg/messages"
	"github.com/tecu23/pvp-server/pkg/repository"
	"github.com/tecu23/pvp-server/pkg/rules"
)

type entry struct {
	participant game.Participant
	timeControl clock.TimeControl
	enqueuedAt  time.Time
}

// Params configures a Matchmaker
type Params struct {
	Engine     rules.Engine
	Repository repository.SessionRepository
	Publisher  *events.Publisher
	Logger     *zap.Logger

	TickInterval time.Duration
	Now          func() time.Time
}

// Matchmaker holds at most one waiting participant per time control key and at most one entry per
// participant.
type Matchmaker struct {
	byKey         map[string]*entry
	byParticipant map[uuid.UUID]*entry
	mu            sync.Mutex

	engine       rules.Engine
	repo         repository.SessionRepository
	publisher    *events.Publisher
	logger       *zap.Logger
	tickInterval time.Duration
	now          func() time.Time
}

// New creates a matchmaker that starts paired sessions and registers them in the repository
func New(params Params) *Matchmaker {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	engine := params.Engine
	if engine == nil {
		engine = rules.NewChessEngine()
	}
	repo := params.Repository
	if repo == nil {
		repo = repository.NewInMemoryRepository(logger)
	}

	return &Matchmaker{
		byKey:         make(map[string]*entry),
		byParticipant: make(map[uuid.UUID]*entry),
		engine:        engine,
		repo:          repo,
		publisher:     params.Publisher,
		logger:        logger,
		tickInterval:  params.TickInterval,
		now:           now,
	}
}

// RequestGame pairs p with the participant already waiting under the same time control, or makes p the
// waiter for it. Any earlier request by p is replaced. The waiter plays white. It returns the started
// session when a pairing happened.
func (m *Matchmaker) RequestGame(p game.Participant, tc clock.TimeControl) (*game.Session, bool) {
	key := tc.Key()

	m.mu.Lock()
	m.removeLocked(p.ID())

	waiter, ok := m.byKey[key]
	if !ok {
		e := &entry{participant: p, timeControl: tc, enqueuedAt: m.now()}
		m.byKey[key] = e
		m.byParticipant[p.ID()] = e
		m.mu.Unlock()

		m.logger.Info("participant waiting for opponent",
			zap.String("player_id", p.ID().String()),
			zap.String("time_control", tc.String()),
		)
		p.Send(messages.Waiting(tc))
		return nil, false
	}

	delete(m.byKey, key)
	delete(m.byParticipant, waiter.participant.ID())
	m.mu.Unlock()

	session, err := game.CreateSession(game.CreateSessionParams{
		White:        waiter.participant,
		Black:        p,
		TimeControl:  tc,
		Game:         m.engine.NewGame(),
		TickInterval: m.tickInterval,
		Now:          m.now,
		Publisher:    m.publisher,
		Logger:       m.logger,
	})
	if err != nil {
		m.logger.Error("failed to create session", zap.Error(err))
		return nil, false
	}

	if err := m.repo.Save(session); err != nil {
		m.logger.Error("failed to save session", zap.Error(err))
	}
	session.Start()

	m.logger.Info("paired participants",
		zap.String("game_id", session.ID().String()),
		zap.Duration("waited", m.now().Sub(waiter.enqueuedAt)),
	)

	return session, true
}

// Cancel withdraws p's pending request. It reports whether one existed.
func (m *Matchmaker) Cancel(p game.Participant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeLocked(p.ID())
}

// Pending returns the time control p is waiting for
func (m *Matchmaker) Pending(p game.Participant) (clock.TimeControl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byParticipant[p.ID()]
	if !ok {
		return clock.TimeControl{}, false
	}

	return e.timeControl, true
}

// Len returns the number of waiting participants
func (m *Matchmaker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.byKey)
}

func (m *Matchmaker) removeLocked(id uuid.UUID) bool {
	e, ok := m.byParticipant[id]
	if !ok {
		return false
	}

	delete(m.byParticipant, id)
	if cur, ok := m.byKey[e.timeControl.Key()]; ok && cur == e {
		delete(m.byKey, e.timeControl.Key())
	}

	return true
}
