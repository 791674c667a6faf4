// Package color provides the two sides of a game
package color

// Color represents a side. White always moves first.
type Color string

// Possible color variations in a game
const (
	White Color = "white"
	Black Color = "black"
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// ForMoveCount returns the side to move after n accepted moves.
func ForMoveCount(n int) Color {
	if n%2 == 0 {
		return White
	}

	return Black
}

// Valid reports whether c is one of the two sides.
func (c Color) Valid() bool {
	return c == White || c == Black
}
