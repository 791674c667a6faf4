package game

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecu23/pvp-server/internal/color"
	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/messages"
	"github.com/tecu23/pvp-server/pkg/rules"
)

type fakeParticipant struct {
	id   uuid.UUID
	mu   sync.Mutex
	msgs []messages.OutboundMessage
}

func newFakeParticipant() *fakeParticipant {
	return &fakeParticipant{id: uuid.New()}
}

func (p *fakeParticipant) ID() uuid.UUID { return p.id }

func (p *fakeParticipant) Send(msg messages.OutboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakeParticipant) ofType(typ string) []messages.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []messages.OutboundMessage
	for _, m := range p.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakeParticipant) lastOf(t *testing.T, typ string) messages.OutboundMessage {
	t.Helper()
	all := p.ofType(typ)
	require.NotEmpty(t, all, "no %q message", typ)
	return all[len(all)-1]
}

func (p *fakeParticipant) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

// fakeGame accepts every move except those to the square "x9" and ends after terminalAfter moves.
type fakeGame struct {
	applied       []rules.Move
	terminalAfter int
	reason        rules.Reason
}

func (g *fakeGame) Validate(m rules.Move) error {
	if m.To == "x9" {
		return rules.ErrIllegalMove
	}
	return nil
}

func (g *fakeGame) Apply(m rules.Move) error {
	if err := g.Validate(m); err != nil {
		return err
	}
	g.applied = append(g.applied, m)
	return nil
}

func (g *fakeGame) LegalMoves(square string) ([]rules.Move, error) {
	if square == "zz" {
		return nil, rules.ErrInvalidSquare
	}
	return []rules.Move{{From: square, To: "a1"}}, nil
}

func (g *fakeGame) Turn() color.Color { return color.ForMoveCount(len(g.applied)) }

func (g *fakeGame) Outcome() rules.Outcome {
	if g.terminalAfter > 0 && len(g.applied) >= g.terminalAfter {
		return rules.Outcome{Terminal: true, Reason: g.reason}
	}
	return rules.Outcome{}
}

func (g *fakeGame) FEN() string { return "" }

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type fixture struct {
	session *Session
	white   *fakeParticipant
	black   *fakeParticipant
	game    *fakeGame
	now     *fakeNow
}

func newFixture(t *testing.T, tc clock.TimeControl) *fixture {
	t.Helper()
	f := &fixture{
		white: newFakeParticipant(),
		black: newFakeParticipant(),
		game:  &fakeGame{},
		now:   newFakeNow(),
	}

	s, err := CreateSession(CreateSessionParams{
		White:       f.white,
		Black:       f.black,
		TimeControl: tc,
		Game:        f.game,
		Now:         f.now.Now,
	})
	require.NoError(t, err)
	f.session = s
	return f
}

func mv(from, to string) rules.Move { return rules.Move{From: from, To: to} }

func gameOver(t *testing.T, p *fakeParticipant) messages.GameOverPayload {
	t.Helper()
	payload, ok := p.lastOf(t, messages.TypeGameOver).Payload.(messages.GameOverPayload)
	require.True(t, ok)
	return payload
}

func clockUpdate(t *testing.T, p *fakeParticipant) messages.ClockUpdatePayload {
	t.Helper()
	payload, ok := p.lastOf(t, messages.TypeClockUpdate).Payload.(messages.ClockUpdatePayload)
	require.True(t, ok)
	return payload
}

func TestCreateSessionSendsRoles(t *testing.T) {
	f := newFixture(t, clock.Minutes(5))

	w, ok := f.white.lastOf(t, messages.TypeGameStarted).Payload.(messages.GameStartedPayload)
	require.True(t, ok)
	b, ok := f.black.lastOf(t, messages.TypeGameStarted).Payload.(messages.GameStartedPayload)
	require.True(t, ok)

	assert.Equal(t, color.White, w.Color)
	assert.Equal(t, color.Black, b.Color)
	assert.Equal(t, f.session.ID().String(), w.GameID)
	assert.Equal(t, clock.Minutes(5), w.TimeControl)
	require.NotNil(t, w.WhiteTime)
	require.NotNil(t, w.BlackTime)
	assert.Equal(t, int64(300000), *w.WhiteTime)
	assert.Equal(t, int64(300000), *b.BlackTime)
}

func TestCreateSessionUnlimitedOmitsClock(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	w, ok := f.white.lastOf(t, messages.TypeGameStarted).Payload.(messages.GameStartedPayload)
	require.True(t, ok)
	assert.Nil(t, w.WhiteTime)
	assert.Nil(t, w.BlackTime)

	_, ok = f.session.Remaining()
	assert.False(t, ok)
}

func TestCreateSessionRejectsSameParticipant(t *testing.T) {
	p := newFakeParticipant()
	_, err := CreateSession(CreateSessionParams{White: p, Black: p, Game: &fakeGame{}})
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = CreateSession(CreateSessionParams{White: p, Game: &fakeGame{}})
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = CreateSession(CreateSessionParams{White: p, Black: newFakeParticipant()})
	assert.Error(t, err)
}

func TestMoveCountOnlyCountsAcceptedMoves(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	accepted := 0
	for i := 0; i < 6; i++ {
		mover, other := f.white, f.black
		if i%2 == 1 {
			mover, other = f.black, f.white
		}

		assert.False(t, f.session.ApplyMove(other, mv("a2", "a3")), "out of turn")
		assert.False(t, f.session.ApplyMove(mover, mv("a2", "x9")), "illegal")
		assert.False(t, f.session.ApplyMove(newFakeParticipant(), mv("a2", "a3")), "stranger")

		require.True(t, f.session.ApplyMove(mover, mv("a2", "a3")))
		accepted++
		assert.Equal(t, accepted, f.session.MoveCount())
	}

	assert.Equal(t, 6, f.session.MoveCount())
	assert.Len(t, f.game.applied, 6)
}

func TestTurnAlternationStartsWithWhite(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	assert.False(t, f.session.ApplyMove(f.black, mv("e7", "e5")))
	assert.Equal(t, 0, f.session.MoveCount())

	for n := 0; n < 8; n++ {
		expected := f.white
		if n%2 == 1 {
			expected = f.black
		}
		require.True(t, f.session.ApplyMove(expected, mv("a1", "a2")), "move %d", n)
	}
}

func TestAcceptedMoveIsRelayedToOpponentOnly(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))

	relayed := f.black.ofType(messages.TypeMove)
	require.Len(t, relayed, 1)
	assert.Equal(t, mv("e2", "e4"), relayed[0].Payload)
	assert.Empty(t, f.white.ofType(messages.TypeMove))
	assert.Empty(t, f.white.ofType(messages.TypeClockUpdate), "unlimited games have no clock updates")
}

func TestRejectedMoveSendsNothing(t *testing.T) {
	f := newFixture(t, clock.Minutes(5))
	f.white.reset()
	f.black.reset()

	assert.False(t, f.session.ApplyMove(f.white, mv("e2", "x9")))
	assert.False(t, f.session.ApplyMove(f.black, mv("e7", "e5")))

	assert.Empty(t, f.white.msgs)
	assert.Empty(t, f.black.msgs)
}

func TestTicksChargeOnlySideToMove(t *testing.T) {
	f := newFixture(t, clock.Minutes(1))
	const e = 100 * time.Millisecond

	for k := 1; k <= 7; k++ {
		f.now.Advance(e)
		f.session.Tick()
	}

	times, ok := f.session.Remaining()
	require.True(t, ok)
	assert.Equal(t, int64(60000-700), times.White)
	assert.Equal(t, int64(60000), times.Black)

	update := clockUpdate(t, f.black)
	assert.Equal(t, int64(59300), update.WhiteTime)
	assert.Equal(t, color.White, update.ActiveColor)
	assert.Len(t, f.white.ofType(messages.TypeClockUpdate), 7)

	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))
	for k := 1; k <= 3; k++ {
		f.now.Advance(e)
		f.session.Tick()
	}

	times, _ = f.session.Remaining()
	assert.Equal(t, int64(59300), times.White)
	assert.Equal(t, int64(59700), times.Black)
}

func TestMoveChargesMoverBetweenTicks(t *testing.T) {
	f := newFixture(t, clock.Minutes(5))

	f.now.Advance(100 * time.Millisecond)
	f.session.Tick()
	f.now.Advance(2900 * time.Millisecond)
	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))

	update := clockUpdate(t, f.black)
	assert.Equal(t, int64(297000), update.WhiteTime)
	assert.Equal(t, int64(300000), update.BlackTime)
	assert.Equal(t, color.Black, update.ActiveColor)
	assert.Equal(t, update, clockUpdate(t, f.white))

	f.now.Advance(time.Second)
	f.session.Tick()
	times, _ := f.session.Remaining()
	assert.Equal(t, int64(297000), times.White)
	assert.Equal(t, int64(299000), times.Black)
}

func TestTimeoutTerminatesExactlyOnce(t *testing.T) {
	f := newFixture(t, clock.Minutes(1))
	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))

	f.now.Advance(59900 * time.Millisecond)
	f.session.Tick()
	assert.True(t, f.session.Active())

	f.now.Advance(200 * time.Millisecond)
	f.session.Tick()
	assert.Equal(t, StatusTerminated, f.session.Status())

	for i := 0; i < 5; i++ {
		f.now.Advance(time.Second)
		f.session.Tick()
	}

	for _, p := range []*fakeParticipant{f.white, f.black} {
		overs := p.ofType(messages.TypeGameOver)
		require.Len(t, overs, 1)
		payload := overs[0].Payload.(messages.GameOverPayload)
		require.NotNil(t, payload.Winner)
		assert.Equal(t, color.White, *payload.Winner)
		assert.Equal(t, messages.ReasonTimeout, payload.Reason)
	}

	times, _ := f.session.Remaining()
	assert.Equal(t, int64(0), times.Black)

	select {
	case <-f.session.Done():
	default:
		t.Fatal("session not torn down after timeout")
	}

	assert.False(t, f.session.ApplyMove(f.black, mv("e7", "e5")))
	assert.Equal(t, 1, f.session.MoveCount())
}

func TestSubMillisecondRemainderKeepsGameAlive(t *testing.T) {
	f := newFixture(t, clock.Minutes(1.0/60)) // one second

	f.now.Advance(999*time.Millisecond + 500*time.Microsecond)
	f.session.Tick()
	assert.True(t, f.session.Active())
	assert.Equal(t, int64(0), clockUpdate(t, f.white).WhiteTime)

	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")), "500µs were still on the clock")

	f.now.Advance(time.Second)
	f.session.Tick()
	out, ok := f.session.Outcome()
	require.True(t, ok)
	require.NotNil(t, out.Winner)
	assert.Equal(t, color.White, *out.Winner)
	assert.Equal(t, messages.ReasonTimeout, out.Reason)
}

func TestMoveAfterFlagFallLosesOnTime(t *testing.T) {
	f := newFixture(t, clock.Minutes(1))

	f.now.Advance(61 * time.Second)
	assert.False(t, f.session.ApplyMove(f.white, mv("e2", "e4")))

	assert.Equal(t, 0, f.session.MoveCount())
	assert.Empty(t, f.game.applied)
	assert.Empty(t, f.black.ofType(messages.TypeMove))

	out, ok := f.session.Outcome()
	require.True(t, ok)
	require.NotNil(t, out.Winner)
	assert.Equal(t, color.Black, *out.Winner)
	assert.Equal(t, messages.ReasonTimeout, out.Reason)
}

func TestCheckmateAwardsMover(t *testing.T) {
	f := newFixture(t, clock.Minutes(5))
	f.game.terminalAfter = 2
	f.game.reason = rules.ReasonCheckmate

	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))
	f.white.reset()
	require.True(t, f.session.ApplyMove(f.black, mv("d8", "h4")))

	assert.Empty(t, f.white.ofType(messages.TypeMove), "terminal move is not relayed")
	assert.Empty(t, f.white.ofType(messages.TypeClockUpdate))

	for _, p := range []*fakeParticipant{f.white, f.black} {
		payload := gameOver(t, p)
		require.NotNil(t, payload.Winner)
		assert.Equal(t, color.Black, *payload.Winner)
		assert.Equal(t, messages.ReasonCheckmate, payload.Reason)
	}
	assert.False(t, f.session.Active())
}

func TestDrawnResultsHaveNoWinner(t *testing.T) {
	reasons := []rules.Reason{
		rules.ReasonStalemate,
		rules.ReasonDraw,
		rules.ReasonInsufficientMaterial,
		rules.ReasonRepetition,
	}

	for _, reason := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			f := newFixture(t, clock.Unlimited())
			f.game.terminalAfter = 1
			f.game.reason = reason

			require.True(t, f.session.ApplyMove(f.white, mv("a1", "a2")))

			for _, p := range []*fakeParticipant{f.white, f.black} {
				payload := gameOver(t, p)
				assert.Nil(t, payload.Winner)
				assert.Equal(t, string(reason), payload.Reason)
			}
		})
	}
}

func TestDisconnectNotifiesRemainingPlayer(t *testing.T) {
	f := newFixture(t, clock.Minutes(5))
	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))

	assert.True(t, f.session.HandleDisconnect(f.black))
	assert.False(t, f.session.HandleDisconnect(f.black), "idempotent")
	assert.False(t, f.session.HandleDisconnect(f.white), "already terminated")

	assert.Empty(t, f.black.ofType(messages.TypeGameOver))
	overs := f.white.ofType(messages.TypeGameOver)
	require.Len(t, overs, 1)
	payload := overs[0].Payload.(messages.GameOverPayload)
	require.NotNil(t, payload.Winner)
	assert.Equal(t, color.White, *payload.Winner)
	assert.Equal(t, messages.ReasonOpponentDisconnected, payload.Reason)

	assert.False(t, f.session.ApplyMove(f.black, mv("e7", "e5")))
	assert.False(t, f.session.ApplyMove(f.white, mv("d2", "d4")))
	assert.Equal(t, 1, f.session.MoveCount())

	before, _ := f.session.Remaining()
	f.now.Advance(10 * time.Second)
	f.session.Tick()
	after, _ := f.session.Remaining()
	assert.Equal(t, before, after, "clock frozen after teardown")
}

func TestDisconnectOfStrangerIsIgnored(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	assert.False(t, f.session.HandleDisconnect(newFakeParticipant()))
	assert.True(t, f.session.Active())
}

func TestLegalMovesOnlyForSideToMove(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	assert.Empty(t, f.session.LegalMoves(f.black, "e7"))
	assert.Equal(t, []rules.Move{{From: "e2", To: "a1"}}, f.session.LegalMoves(f.white, "e2"))
	assert.Empty(t, f.session.LegalMoves(f.white, "zz"))
	assert.NotNil(t, f.session.LegalMoves(f.white, "zz"))

	require.True(t, f.session.ApplyMove(f.white, mv("e2", "e4")))
	assert.Empty(t, f.session.LegalMoves(f.white, "d2"))
	assert.NotEmpty(t, f.session.LegalMoves(f.black, "e7"))

	f.session.HandleDisconnect(f.white)
	assert.Empty(t, f.session.LegalMoves(f.black, "e7"))
}

func TestAccessors(t *testing.T) {
	f := newFixture(t, clock.Minutes(3))

	assert.True(t, f.session.Owns(f.white))
	assert.True(t, f.session.Owns(f.black))
	assert.False(t, f.session.Owns(newFakeParticipant()))

	side, ok := f.session.ColorOf(f.black)
	assert.True(t, ok)
	assert.Equal(t, color.Black, side)

	assert.Equal(t, f.black.ID(), f.session.Opponent(f.white).ID())
	assert.Nil(t, f.session.Opponent(newFakeParticipant()))
	assert.Equal(t, clock.Minutes(3), f.session.TimeControl())
	assert.Equal(t, f.white.ID(), f.session.White().ID())
	assert.Equal(t, f.black.ID(), f.session.Black().ID())

	_, ok = f.session.Outcome()
	assert.False(t, ok)
}

func TestUnlimitedTickIsNoop(t *testing.T) {
	f := newFixture(t, clock.Unlimited())

	f.now.Advance(time.Hour)
	f.session.Tick()
	assert.True(t, f.session.Active())
	assert.Empty(t, f.white.ofType(messages.TypeClockUpdate))
}

func TestTickerFlagsAndStops(t *testing.T) {
	white, black := newFakeParticipant(), newFakeParticipant()
	s, err := CreateSession(CreateSessionParams{
		White:        white,
		Black:        black,
		TimeControl:  clock.TimeControl{Initial: 50 * time.Millisecond},
		Game:         &fakeGame{},
		TickInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	s.Start()
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never flagged the side to move")
	}

	out, ok := s.Outcome()
	require.True(t, ok)
	require.NotNil(t, out.Winner)
	assert.Equal(t, color.Black, *out.Winner)
	assert.Equal(t, messages.ReasonTimeout, out.Reason)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, white.ofType(messages.TypeGameOver), 1)
	assert.Len(t, black.ofType(messages.TypeGameOver), 1)
}

func TestConcurrentTicksAndMoves(t *testing.T) {
	f := newFixture(t, clock.Minutes(10))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				f.now.Advance(time.Millisecond)
				f.session.Tick()
			}
		}()
	}
	for _, p := range []*fakeParticipant{f.white, f.black} {
		wg.Add(1)
		go func(p *fakeParticipant) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if f.session.ApplyMove(p, mv("a1", "a2")) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, accepted, f.session.MoveCount())
	times, _ := f.session.Remaining()
	assert.Equal(t, int64(2*600000-800), times.White+times.Black)
}

func TestFoolsMateWithChessRules(t *testing.T) {
	white, black := newFakeParticipant(), newFakeParticipant()
	s, err := CreateSession(CreateSessionParams{
		White:       white,
		Black:       black,
		TimeControl: clock.Unlimited(),
		Game:        rules.NewChessEngine().NewGame(),
	})
	require.NoError(t, err)

	require.True(t, s.ApplyMove(white, mv("f2", "f3")))
	assert.False(t, s.ApplyMove(black, mv("e7", "e4")), "illegal pawn jump")
	require.True(t, s.ApplyMove(black, mv("e7", "e5")))
	require.True(t, s.ApplyMove(white, mv("g2", "g4")))
	require.True(t, s.ApplyMove(black, mv("d8", "h4")))

	assert.Equal(t, 4, s.MoveCount())
	payload := gameOver(t, white)
	require.NotNil(t, payload.Winner)
	assert.Equal(t, color.Black, *payload.Winner)
	assert.Equal(t, messages.ReasonCheckmate, payload.Reason)
}

func TestFiftyMoveDrawHasNoWinner(t *testing.T) {
	g, err := rules.NewChessEngine().NewGameFromFEN("7k/8/8/8/8/8/8/KR6 w - - 99 80")
	require.NoError(t, err)

	white, black := newFakeParticipant(), newFakeParticipant()
	s, err := CreateSession(CreateSessionParams{
		White:       white,
		Black:       black,
		TimeControl: clock.Unlimited(),
		Game:        g,
	})
	require.NoError(t, err)

	require.True(t, s.ApplyMove(white, mv("b1", "b2")))

	assert.Empty(t, black.ofType(messages.TypeMove))
	for _, p := range []*fakeParticipant{white, black} {
		payload := gameOver(t, p)
		assert.Nil(t, payload.Winner)
		assert.Equal(t, messages.ReasonDraw, payload.Reason)
	}
	assert.False(t, s.Active())
}
