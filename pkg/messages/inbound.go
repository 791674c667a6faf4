package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tecu23/pvp-server/pkg/clock"
	"github.com/tecu23/pvp-server/pkg/rules"
)

// Inbound message types
const (
	TypeRequestGame     = "request-game"
	TypeMove            = "move"
	TypeQueryLegalMoves = "query-legal-moves"
)

// aliases accepted from older clients
var inboundAliases = map[string]string{
	"init_game":       TypeRequestGame,
	"get_valid_moves": TypeQueryLegalMoves,
}

var (
	// ErrUnknownType is returned for an inbound type no handler exists for.
	ErrUnknownType = errors.New("unknown message type")
	// ErrInvalidPayload is returned when a payload does not match its type.
	ErrInvalidPayload = errors.New("invalid payload")
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Kind returns the canonical type of the message.
func (m InboundMessage) Kind() string {
	if canonical, ok := inboundAliases[m.Type]; ok {
		return canonical
	}

	return m.Type
}

// MakeMovePayload represents the payload for making a move during a game
type MakeMovePayload struct {
	Move *rules.Move `json:"move"`
}

// QueryLegalMovesPayload asks for the legal moves starting on a square
type QueryLegalMovesPayload struct {
	Square string `json:"square"`
}

// DecodeRequestGame returns the requested time control. A missing payload or a missing timeControl field
// selects def; an explicit null selects an unlimited game.
func DecodeRequestGame(payload json.RawMessage, def clock.TimeControl) (clock.TimeControl, error) {
	if isEmpty(payload) {
		return def, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return def, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	raw, ok := fields["timeControl"]
	if !ok {
		return def, nil
	}

	var tc clock.TimeControl
	if err := json.Unmarshal(raw, &tc); err != nil {
		return def, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return tc, nil
}

// DecodeMove returns the move of a move message.
func DecodeMove(payload json.RawMessage) (rules.Move, error) {
	var p MakeMovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return rules.Move{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Move == nil || p.Move.From == "" || p.Move.To == "" {
		return rules.Move{}, fmt.Errorf("%w: move requires from and to", ErrInvalidPayload)
	}

	return *p.Move, nil
}

// DecodeQueryLegalMoves returns the square of a legal-moves query.
func DecodeQueryLegalMoves(payload json.RawMessage) (string, error) {
	var p QueryLegalMovesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Square == "" {
		return "", fmt.Errorf("%w: square is required", ErrInvalidPayload)
	}

	return p.Square, nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
