// Package game implements the two-player session state machine: turn enforcement, move relay,
// per-side clock accounting and termination.
package game

import (
	"github.com/google/uuid"

	"github.com/tecu23/pvp-server/pkg/messages"
)

// Participant is one connected player. Sends are fire-and-forget; a failed delivery surfaces as a
// disconnect through the transport.
type Participant interface {
	ID() uuid.UUID
	Send(msg messages.OutboundMessage)
}

func samePlayer(a, b Participant) bool {
	if a == nil || b == nil {
		return false
	}

	return a.ID() == b.ID()
}
