package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/corentings/chess/v2"

	"github.com/tecu23/pvp-server/internal/color"
)

// fenMu serializes FEN decoding and encoding: the chess library decodes into package-level buffers, so
// building games from different goroutines at once corrupts boards.
var fenMu sync.Mutex

// ChessEngine is an Engine backed by github.com/corentings/chess. It is safe for concurrent use.
type ChessEngine struct{}

// NewChessEngine creates a chess rule engine
func NewChessEngine() *ChessEngine {
	return &ChessEngine{}
}

// NewGame starts a game from the standard initial position.
func (e *ChessEngine) NewGame() Game {
	fenMu.Lock()
	defer fenMu.Unlock()

	return &chessGame{game: chess.NewGame()}
}

// NewGameFromFEN starts a game from the given position.
func (e *ChessEngine) NewGameFromFEN(fen string) (Game, error) {
	fenMu.Lock()
	defer fenMu.Unlock()

	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}

	return &chessGame{game: chess.NewGame(opt)}, nil
}

type chessGame struct {
	game *chess.Game
}

func (g *chessGame) Validate(m Move) error {
	_, err := g.uci(m)
	return err
}

func (g *chessGame) Apply(m Move) error {
	uci, err := g.uci(m)
	if err != nil {
		return err
	}

	if err := g.game.PushNotationMove(uci, chess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	g.claimDraws()

	return nil
}

// claimDraws ends the game on positions a player could claim as drawn, so that threefold repetition and
// the fifty-move rule finish the game without a claim message.
func (g *chessGame) claimDraws() {
	if g.game.Outcome() != chess.NoOutcome {
		return
	}

	for _, method := range g.game.EligibleDraws() {
		if method == chess.ThreefoldRepetition || method == chess.FiftyMoveRule {
			_ = g.game.Draw(method)
			return
		}
	}
}

func (g *chessGame) LegalMoves(square string) ([]Move, error) {
	square = strings.ToLower(strings.TrimSpace(square))
	if !validSquare(square) {
		return nil, ErrInvalidSquare
	}

	moves := []Move{}
	for _, mv := range g.game.ValidMoves() {
		if mv.S1().String() != square {
			continue
		}
		moves = append(moves, Move{
			From:      mv.S1().String(),
			To:        mv.S2().String(),
			Promotion: mv.Promo().String(),
		})
	}

	return moves, nil
}

func (g *chessGame) Turn() color.Color {
	if g.game.Position().Turn() == chess.White {
		return color.White
	}

	return color.Black
}

func (g *chessGame) Outcome() Outcome {
	if g.game.Outcome() == chess.NoOutcome {
		return Outcome{}
	}

	var reason Reason
	switch g.game.Method() {
	case chess.Checkmate:
		reason = ReasonCheckmate
	case chess.Stalemate:
		reason = ReasonStalemate
	case chess.InsufficientMaterial:
		reason = ReasonInsufficientMaterial
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		reason = ReasonRepetition
	default:
		reason = ReasonDraw
	}

	return Outcome{Terminal: true, Reason: reason}
}

func (g *chessGame) FEN() string {
	fenMu.Lock()
	defer fenMu.Unlock()

	return g.game.FEN()
}

// uci matches m against the legal moves and returns its UCI text.
func (g *chessGame) uci(m Move) (string, error) {
	from := strings.ToLower(strings.TrimSpace(m.From))
	to := strings.ToLower(strings.TrimSpace(m.To))
	promo := strings.ToLower(strings.TrimSpace(m.Promotion))
	if !validSquare(from) || !validSquare(to) {
		return "", ErrIllegalMove
	}

	for _, mv := range g.game.ValidMoves() {
		if mv.S1().String() != from || mv.S2().String() != to {
			continue
		}
		if mv.Promo().String() != promo {
			continue
		}
		return from + to + promo, nil
	}

	return "", ErrIllegalMove
}

func validSquare(s string) bool {
	if len(s) != 2 {
		return false
	}

	return s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}
