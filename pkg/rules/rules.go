// Package rules defines what a session needs from a rule engine: legality checks, position updates and
// terminal-state classification. Positions stay opaque to callers.
package rules

import (
	"errors"

	"github.com/tecu23/pvp-server/internal/color"
)

var (
	// ErrIllegalMove is returned when a move is not legal in the current position.
	ErrIllegalMove = errors.New("illegal move")
	// ErrInvalidSquare is returned for a malformed square name.
	ErrInvalidSquare = errors.New("invalid square")
)

// Move is a move from one square to another, with an optional promotion piece (q, r, b, n).
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Reason classifies why a game ended.
type Reason string

// Terminal reasons reported by the rule engine
const (
	ReasonNone                 Reason = ""
	ReasonCheckmate            Reason = "checkmate"
	ReasonStalemate            Reason = "stalemate"
	ReasonDraw                 Reason = "draw"
	ReasonInsufficientMaterial Reason = "insufficient_material"
	ReasonRepetition           Reason = "repetition"
)

// Decisive reports whether the reason produces a winner.
func (r Reason) Decisive() bool {
	return r == ReasonCheckmate
}

// Outcome is the terminal-state classification of a position.
type Outcome struct {
	Terminal bool
	Reason   Reason
}

// Game is one game position managed by a rule engine.
type Game interface {
	// Validate reports ErrIllegalMove without changing the position.
	Validate(m Move) error
	// Apply validates and plays the move.
	Apply(m Move) error
	// LegalMoves lists the legal moves starting on square for the side to move.
	LegalMoves(square string) ([]Move, error)
	// Turn is the side to move.
	Turn() color.Color
	Outcome() Outcome
	FEN() string
}

// Engine creates games. Implementations must be safe for concurrent use; the matchmaker builds games
// from many requesters at once.
type Engine interface {
	NewGame() Game
}
