package messages

import (
	"github.com/tecu23/pvp-server/internal/color"
	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/rules"
)

// Outbound message types
const (
	TypeWaiting     = "waiting"
	TypeGameStarted = "game-started"
	TypeLegalMoves  = "legal-moves"
	TypeClockUpdate = "clock-update"
	TypeGameOver    = "game-over"
)

// Terminal reasons sent in game-over messages. The first five come from the rule engine.
const (
	ReasonCheckmate            = string(rules.ReasonCheckmate)
	ReasonDraw                 = string(rules.ReasonDraw)
	ReasonStalemate            = string(rules.ReasonStalemate)
	ReasonInsufficientMaterial = string(rules.ReasonInsufficientMaterial)
	ReasonRepetition           = string(rules.ReasonRepetition)
	ReasonTimeout              = "timeout"
	ReasonOpponentDisconnected = "opponent_disconnected"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WaitingPayload is sent when a player enters the pending queue
type WaitingPayload struct {
	Message     string            `json:"message"`
	TimeControl clock.TimeControl `json:"timeControl"`
}

// GameStartedPayload is sent to each player individually on pairing
type GameStartedPayload struct {
	GameID      string            `json:"gameId"`
	Color       color.Color       `json:"color"`
	TimeControl clock.TimeControl `json:"timeControl"`
	WhiteTime   *int64            `json:"whiteTimeMs,omitempty"`
	BlackTime   *int64            `json:"blackTimeMs,omitempty"`
}

// LegalMovesPayload answers a legal-moves query
type LegalMovesPayload struct {
	Square string       `json:"square"`
	Moves  []rules.Move `json:"moves"`
}

// ClockUpdatePayload contains information about the current state of the clock
type ClockUpdatePayload struct {
	WhiteTime   int64       `json:"whiteTimeMs"` // White's remaining time in milliseconds
	BlackTime   int64       `json:"blackTimeMs"` // Black's remaining time in milliseconds
	ActiveColor color.Color `json:"activeColor"`
}

// GameOverPayload announces the end of a game. Winner is nil for drawn results.
type GameOverPayload struct {
	Winner *color.Color `json:"winner"`
	Reason string       `json:"reason"`
}

// Waiting builds the message sent when a player starts waiting for an opponent.
func Waiting(tc clock.TimeControl) OutboundMessage {
	return OutboundMessage{
		Type: TypeWaiting,
		Payload: WaitingPayload{
			Message:     "Waiting for opponent...",
			TimeControl: tc,
		},
	}
}

// Move builds the relay of an accepted move.
func Move(m rules.Move) OutboundMessage {
	return OutboundMessage{Type: TypeMove, Payload: m}
}

// LegalMoves builds the answer to a legal-moves query.
func LegalMoves(square string, moves []rules.Move) OutboundMessage {
	if moves == nil {
		moves = []rules.Move{}
	}

	return OutboundMessage{
		Type:    TypeLegalMoves,
		Payload: LegalMovesPayload{Square: square, Moves: moves},
	}
}

// ClockUpdate builds a clock broadcast.
func ClockUpdate(times clock.Times, active color.Color) OutboundMessage {
	return OutboundMessage{
		Type: TypeClockUpdate,
		Payload: ClockUpdatePayload{
			WhiteTime:   times.White,
			BlackTime:   times.Black,
			ActiveColor: active,
		},
	}
}

// GameOver builds the termination message.
func GameOver(winner *color.Color, reason string) OutboundMessage {
	return OutboundMessage{
		Type:    TypeGameOver,
		Payload: GameOverPayload{Winner: winner, Reason: reason},
	}
}
