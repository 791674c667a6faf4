package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecu23/pvp-server/internal/color"
	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/events"
	"github.com/tecu23/pvp-server/pkg/matchmaker"
	"github.com/tecu23/pvp-server/pkg/messages"
	"github.com/tecu23/pvp-server/pkg/repository"
	"github.com/tecu23/pvp-server/pkg/rules"
)

type recorder struct {
	id   uuid.UUID
	mu   sync.Mutex
	msgs []messages.OutboundMessage
}

func newRecorder() *recorder { return &recorder{id: uuid.New()} }

func (r *recorder) ID() uuid.UUID { return r.id }

func (r *recorder) Send(msg messages.OutboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) ofType(typ string) []messages.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []messages.OutboundMessage
	for _, m := range r.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	manager *Manager
	repo    *repository.InMemorySessionRepository
	mm      *matchmaker.Matchmaker
}

func newFixture() *fixture {
	publisher := events.NewPublisher()
	repo := repository.NewInMemoryRepository(nil)
	mm := matchmaker.New(matchmaker.Params{Repository: repo, Publisher: publisher})

	return &fixture{
		manager: NewManager(nil, publisher, mm, repo),
		repo:    repo,
		mm:      mm,
	}
}

func (f *fixture) pair(t *testing.T, tc clock.TimeControl) (*recorder, *recorder) {
	t.Helper()
	x, y := newRecorder(), newRecorder()
	f.manager.Connect(x)
	f.manager.Connect(y)

	_, paired := f.manager.RequestGame(x, tc)
	require.False(t, paired)
	s, paired := f.manager.RequestGame(y, tc)
	require.True(t, paired)
	t.Cleanup(func() { s.HandleDisconnect(x) })

	return x, y
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture()
	x := newRecorder()

	f.manager.Connect(x)
	assert.True(t, f.manager.IsConnected(x))
	assert.Equal(t, 1, f.manager.ConnectedCount())

	f.manager.Disconnect(x)
	f.manager.Disconnect(x)
	assert.False(t, f.manager.IsConnected(x))
	assert.Equal(t, 0, f.manager.ConnectedCount())
}

func TestRequestFromUnknownParticipantDropped(t *testing.T) {
	f := newFixture()

	_, paired := f.manager.RequestGame(newRecorder(), clock.Minutes(5))
	assert.False(t, paired)
	assert.Equal(t, 0, f.mm.Len())
}

func TestDisconnectWhileWaitingCancels(t *testing.T) {
	f := newFixture()
	x := newRecorder()
	f.manager.Connect(x)

	f.manager.RequestGame(x, clock.Minutes(5))
	require.Equal(t, 1, f.mm.Len())

	f.manager.Disconnect(x)
	assert.Equal(t, 0, f.mm.Len())
}

func TestRequestWhilePlayingDropped(t *testing.T) {
	f := newFixture()
	x, _ := f.pair(t, clock.Unlimited())

	_, paired := f.manager.RequestGame(x, clock.Unlimited())
	assert.False(t, paired)
	assert.Equal(t, 0, f.mm.Len())
	assert.Len(t, x.ofType(messages.TypeWaiting), 1)
}

func TestMoveRoutedToOwningSession(t *testing.T) {
	f := newFixture()
	x, y := f.pair(t, clock.Unlimited())

	assert.False(t, f.manager.Move(y, rules.Move{From: "e7", To: "e5"}), "out of turn")
	assert.True(t, f.manager.Move(x, rules.Move{From: "e2", To: "e4"}))
	assert.False(t, f.manager.Move(y, rules.Move{From: "e7", To: "e4"}), "illegal")

	relayed := y.ofType(messages.TypeMove)
	require.Len(t, relayed, 1)
	assert.Equal(t, rules.Move{From: "e2", To: "e4"}, relayed[0].Payload)
	assert.Empty(t, x.ofType(messages.TypeMove))

	stranger := newRecorder()
	f.manager.Connect(stranger)
	assert.False(t, f.manager.Move(stranger, rules.Move{From: "e2", To: "e4"}))
}

func TestQueryLegalMovesAnswersRequesterOnly(t *testing.T) {
	f := newFixture()
	x, y := f.pair(t, clock.Unlimited())

	f.manager.QueryLegalMoves(y, "e7")
	answers := y.ofType(messages.TypeLegalMoves)
	require.Len(t, answers, 1)
	assert.Empty(t, answers[0].Payload.(messages.LegalMovesPayload).Moves, "not black's turn")

	f.manager.QueryLegalMoves(x, "e2")
	answers = x.ofType(messages.TypeLegalMoves)
	require.Len(t, answers, 1)
	payload := answers[0].Payload.(messages.LegalMovesPayload)
	assert.Equal(t, "e2", payload.Square)
	assert.ElementsMatch(t, []rules.Move{{From: "e2", To: "e3"}, {From: "e2", To: "e4"}}, payload.Moves)
	assert.Len(t, y.ofType(messages.TypeLegalMoves), 1)

	lonely := newRecorder()
	f.manager.Connect(lonely)
	f.manager.QueryLegalMoves(lonely, "e2")
	assert.Empty(t, lonely.ofType(messages.TypeLegalMoves))
}

func TestDisconnectMidGame(t *testing.T) {
	f := newFixture()
	x, y := f.pair(t, clock.Minutes(5))
	require.True(t, f.manager.Move(x, rules.Move{From: "e2", To: "e4"}))

	f.manager.Disconnect(y)

	overs := x.ofType(messages.TypeGameOver)
	require.Len(t, overs, 1)
	payload := overs[0].Payload.(messages.GameOverPayload)
	require.NotNil(t, payload.Winner)
	assert.Equal(t, color.White, *payload.Winner)
	assert.Equal(t, messages.ReasonOpponentDisconnected, payload.Reason)
	assert.Empty(t, y.ofType(messages.TypeGameOver))

	assert.Equal(t, 0, f.repo.Len())
	assert.False(t, f.manager.Move(x, rules.Move{From: "d2", To: "d4"}))
	assert.False(t, f.manager.Move(y, rules.Move{From: "e7", To: "e5"}))

	_, paired := f.manager.RequestGame(x, clock.Minutes(5))
	assert.False(t, paired)
	assert.Equal(t, 1, f.mm.Len(), "winner may queue again")
}

func TestTerminatedSessionIsRemoved(t *testing.T) {
	f := newFixture()
	x, y := f.pair(t, clock.Unlimited())

	for _, step := range []struct {
		p  *recorder
		mv rules.Move
	}{
		{x, rules.Move{From: "f2", To: "f3"}},
		{y, rules.Move{From: "e7", To: "e5"}},
		{x, rules.Move{From: "g2", To: "g4"}},
		{y, rules.Move{From: "d8", To: "h4"}},
	} {
		require.True(t, f.manager.Move(step.p, step.mv))
	}

	assert.Eventually(t, func() bool { return f.repo.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, x.ofType(messages.TypeGameOver), 1)
	assert.Len(t, y.ofType(messages.TypeGameOver), 1)
}
