package game

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/pvp-server/internal/color"
	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/events"
	"github.com/tecu23/pvp-server/pkg/messages"
	"github.com/tecu23/pvp-server/pkg/rules"
)

// DefaultTickInterval is how often a clocked session accounts elapsed time.
const DefaultTickInterval = 100 * time.Millisecond

// ErrInvalidParticipants is returned when a session is created without two distinct players.
var ErrInvalidParticipants = errors.New("session needs two distinct participants")

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Outcome is the final result of a session. Winner is nil for drawn results.
type Outcome struct {
	Winner *color.Color
	Reason string
}

// CreateSessionParams holds everything a new session needs
type CreateSessionParams struct {
	White       Participant
	Black       Participant
	TimeControl clock.TimeControl
	Game        rules.Game

	TickInterval time.Duration
	Now          func() time.Time

	Publisher *events.Publisher
	Logger    *zap.Logger
}

// Session owns one pair of participants and one game. moveCount parity is the only source of truth
// for whose turn it is.
type Session struct {
	id uuid.UUID

	white Participant
	black Participant

	timeControl clock.TimeControl
	game        rules.Game
	clock       *clock.Clock
	moveCount   int
	status      Status
	outcome     *Outcome
	createdAt   time.Time

	tickInterval time.Duration
	now          func() time.Time
	started      bool
	done         chan struct{}
	stopOnce     sync.Once

	mu sync.Mutex

	publisher *events.Publisher
	logger    *zap.Logger
}

// CreateSession builds an active session and tells each participant its color, the time control and
// the initial clock. The clock does not tick until Start is called.
func CreateSession(params CreateSessionParams) (*Session, error) {
	if params.White == nil || params.Black == nil || samePlayer(params.White, params.Black) {
		return nil, ErrInvalidParticipants
	}
	if params.Game == nil {
		return nil, errors.New("session needs a game")
	}

	now := params.Now
	if now == nil {
		now = time.Now
	}
	interval := params.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:           uuid.New(),
		white:        params.White,
		black:        params.Black,
		timeControl:  params.TimeControl,
		game:         params.Game,
		status:       StatusActive,
		createdAt:    now(),
		tickInterval: interval,
		now:          now,
		done:         make(chan struct{}),
		publisher:    params.Publisher,
	}
	s.clock = clock.NewClock(params.TimeControl, s.createdAt)
	s.logger = logger.With(zap.String("game_id", s.id.String()))

	s.white.Send(s.startedMessage(color.White))
	s.black.Send(s.startedMessage(color.Black))

	s.publisher.Publish(events.Event{
		Type:   events.EventGameStarted,
		GameID: s.id.String(),
		Payload: map[string]string{
			"white_id":     s.white.ID().String(),
			"black_id":     s.black.ID().String(),
			"time_control": s.timeControl.String(),
		},
	})

	s.logger.Info("game session created",
		zap.String("white_id", s.white.ID().String()),
		zap.String("black_id", s.black.ID().String()),
		zap.String("time_control", s.timeControl.String()),
	)

	return s, nil
}

func (s *Session) startedMessage(side color.Color) messages.OutboundMessage {
	payload := messages.GameStartedPayload{
		GameID:      s.id.String(),
		Color:       side,
		TimeControl: s.timeControl,
	}
	if s.clock != nil {
		times := s.clock.GetRemainingTime()
		payload.WhiteTime = &times.White
		payload.BlackTime = &times.Black
	}

	return messages.OutboundMessage{Type: messages.TypeGameStarted, Payload: payload}
}

// Start launches the clock ticker. It does nothing for unlimited games, terminated sessions, or when
// called a second time.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.clock == nil || s.status != StatusActive {
		return
	}
	s.started = true

	go s.startClockTicker()
}

func (s *Session) startClockTicker() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.done:
			return
		}
	}
}

// stop is the single teardown path of the ticker and the clock.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		if s.clock != nil {
			s.clock.Stop()
		}
		close(s.done)
	})
}

// ApplyMove plays a move for actor. Moves from a terminated session, out of turn, or rejected by the
// rule engine are dropped without any message or state change. It reports whether the move was accepted.
func (s *Session) ApplyMove(actor Participant, move rules.Move) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return false
	}

	mover := color.ForMoveCount(s.moveCount)
	if !samePlayer(actor, s.player(mover)) {
		s.logger.Debug("move out of turn dropped", zap.String("player_id", idOf(actor)))
		return false
	}

	if err := s.game.Validate(move); err != nil {
		s.logger.Debug("illegal move dropped",
			zap.String("from", move.From),
			zap.String("to", move.To),
			zap.Error(err),
		)
		return false
	}

	now := s.now()
	if s.clock != nil && s.clock.Expired(mover, now) {
		// the flag fell before the move arrived
		s.clock.Charge(mover, now)
		winner := mover.Opp()
		s.terminate(&winner, messages.ReasonTimeout, s.white, s.black)
		return false
	}

	if err := s.game.Apply(move); err != nil {
		s.logger.Warn("rule engine rejected validated move", zap.Error(err))
		return false
	}

	if s.clock != nil {
		s.clock.Charge(mover, now)
	}
	s.moveCount++

	s.publisher.Publish(events.Event{
		Type:    events.EventMoveProcessed,
		GameID:  s.id.String(),
		Payload: move,
	})

	s.logger.Info("processed move",
		zap.String("move", move.From+move.To+move.Promotion),
		zap.Int("move_count", s.moveCount),
		zap.String("new_turn", string(s.game.Turn())),
	)

	if out := s.game.Outcome(); out.Terminal {
		var winner *color.Color
		if out.Reason.Decisive() {
			winner = &mover
		}
		s.terminate(winner, string(out.Reason), s.white, s.black)
		return true
	}

	s.player(mover.Opp()).Send(messages.Move(move))
	if s.clock != nil {
		s.broadcastClock()
	}

	return true
}

// Tick credits the elapsed time to the side to move, ends the game when that side runs out of time, and
// broadcasts the clocks otherwise. It is a no-op for unlimited or terminated sessions.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive || s.clock == nil {
		return
	}

	side := color.ForMoveCount(s.moveCount)
	s.clock.Charge(side, s.now())
	if s.clock.Flagged(side) {
		winner := side.Opp()
		s.terminate(&winner, messages.ReasonTimeout, s.white, s.black)
		return
	}

	s.broadcastClock()
}

// HandleDisconnect ends the session when p leaves and awards the game to the remaining player, who is
// the only one notified. It reports whether the session was terminated by this call.
func (s *Session) HandleDisconnect(p Participant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return false
	}

	side, ok := s.colorOf(p)
	if !ok {
		return false
	}

	winner := side.Opp()
	s.terminate(&winner, messages.ReasonOpponentDisconnected, s.player(winner))
	return true
}

// LegalMoves lists the legal moves from square for actor. It is empty when it is not actor's turn, the
// session has ended, or the square is invalid.
func (s *Session) LegalMoves(actor Participant, square string) []rules.Move {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return []rules.Move{}
	}
	if !samePlayer(actor, s.player(color.ForMoveCount(s.moveCount))) {
		return []rules.Move{}
	}

	moves, err := s.game.LegalMoves(square)
	if err != nil {
		s.logger.Debug("legal moves query rejected", zap.String("square", square), zap.Error(err))
		return []rules.Move{}
	}

	return moves
}

// terminate must be called with s.mu held.
func (s *Session) terminate(winner *color.Color, reason string, notify ...Participant) {
	s.status = StatusTerminated
	s.outcome = &Outcome{Winner: winner, Reason: reason}
	s.stop()

	for _, p := range notify {
		p.Send(messages.GameOver(winner, reason))
	}

	s.publisher.Publish(events.Event{
		Type:    events.EventGameTerminated,
		GameID:  s.id.String(),
		Payload: *s.outcome,
	})

	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Int("move_count", s.moveCount),
	}
	if winner != nil {
		fields = append(fields, zap.String("winner", string(*winner)))
	}
	if s.clock != nil {
		times := s.clock.GetRemainingTime()
		fields = append(fields,
			zap.String("white_clock", clock.FormatClockTime(times.White)),
			zap.String("black_clock", clock.FormatClockTime(times.Black)),
		)
	}
	s.logger.Info("game session terminated", fields...)
}

func (s *Session) broadcastClock() {
	msg := messages.ClockUpdate(s.clock.GetRemainingTime(), color.ForMoveCount(s.moveCount))
	s.white.Send(msg)
	s.black.Send(msg)
}

func (s *Session) player(side color.Color) Participant {
	if side == color.White {
		return s.white
	}

	return s.black
}

func (s *Session) colorOf(p Participant) (color.Color, bool) {
	switch {
	case samePlayer(p, s.white):
		return color.White, true
	case samePlayer(p, s.black):
		return color.Black, true
	default:
		return "", false
	}
}

// ID returns the session identifier
func (s *Session) ID() uuid.UUID { return s.id }

// TimeControl returns the agreed time control
func (s *Session) TimeControl() clock.TimeControl { return s.timeControl }

// White returns the first mover
func (s *Session) White() Participant { return s.white }

// Black returns the second mover
func (s *Session) Black() Participant { return s.black }

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns the lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Active reports whether the session still accepts moves.
func (s *Session) Active() bool {
	return s.Status() == StatusActive
}

// MoveCount returns the number of accepted moves
func (s *Session) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.moveCount
}

// Owns reports whether p plays in this session.
func (s *Session) Owns(p Participant) bool {
	_, ok := s.colorOf(p)
	return ok
}

// ColorOf returns the side p plays.
func (s *Session) ColorOf(p Participant) (color.Color, bool) {
	return s.colorOf(p)
}

// Opponent returns the other participant, or nil if p does not play here.
func (s *Session) Opponent(p Participant) Participant {
	side, ok := s.colorOf(p)
	if !ok {
		return nil
	}

	return s.player(side.Opp())
}

// Remaining returns both clocks. ok is false for unlimited games.
func (s *Session) Remaining() (times clock.Times, ok bool) {
	if s.clock == nil {
		return clock.Times{}, false
	}

	return s.clock.GetRemainingTime(), true
}

// Outcome returns the result once the session has terminated.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome == nil {
		return Outcome{}, false
	}

	return *s.outcome, true
}

func idOf(p Participant) string {
	if p == nil {
		return ""
	}

	return p.ID().String()
}
