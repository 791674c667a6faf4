// Package clock defines time controls and the two-sided countdown clock of a game
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/tecu23/pvp-server/internal/color"
)

// Clock manages the remaining time of both players. Elapsed time is always measured from the last
// accounting instant, so charging from a move and from a periodic tick never double counts.
type Clock struct {
	white time.Duration
	black time.Duration

	lastAccounting time.Time
	isRunning      bool

	mutex sync.RWMutex
}

// Times is a snapshot of both remaining times in milliseconds, clamped at zero.
type Times struct {
	White int64
	Black int64
}

// Of returns the remaining time of one side.
func (t Times) Of(side color.Color) int64 {
	if side == color.Black {
		return t.Black
	}

	return t.White
}

// NewClock creates a running clock for the given time control. It returns nil for unlimited games.
func NewClock(tc TimeControl, now time.Time) *Clock {
	if tc.IsUnlimited() {
		return nil
	}

	return &Clock{
		white:          tc.Initial,
		black:          tc.Initial,
		lastAccounting: now,
		isRunning:      true,
	}
}

// Charge credits the time elapsed since the last accounting to side and resets the accounting instant
// to now. It returns the side's remaining time in milliseconds, which is zero once the flag has fallen.
func (c *Clock) Charge(side color.Color, now time.Time) int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isRunning {
		elapsed := now.Sub(c.lastAccounting)
		if elapsed > 0 {
			if side == color.White {
				c.white -= elapsed
			} else {
				c.black -= elapsed
			}
			c.lastAccounting = now
		}
	}

	return clampMs(c.remaining(side))
}

// Peek returns what Charge would return without committing anything.
func (c *Clock) Peek(side color.Color, now time.Time) int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	left := c.remaining(side)
	if c.isRunning {
		if elapsed := now.Sub(c.lastAccounting); elapsed > 0 {
			left -= elapsed
		}
	}

	return clampMs(left)
}

// Expired reports whether side would have no time left at now. Unlike Peek it looks at the exact
// remaining duration, so a sub-millisecond remainder is still time on the clock.
func (c *Clock) Expired(side color.Color, now time.Time) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	left := c.remaining(side)
	if c.isRunning {
		if elapsed := now.Sub(c.lastAccounting); elapsed > 0 {
			left -= elapsed
		}
	}

	return left <= 0
}

// Flagged reports whether side has used up its time as of the last accounting.
func (c *Clock) Flagged(side color.Color) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.remaining(side) <= 0
}

// Stop freezes the clock. Later charges change nothing.
func (c *Clock) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.isRunning = false
}

// Running reports whether the clock still accepts charges.
func (c *Clock) Running() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.isRunning
}

// GetRemainingTime returns the remaining time for both players as of the last accounting
func (c *Clock) GetRemainingTime() Times {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Times{White: clampMs(c.white), Black: clampMs(c.black)}
}

func (c *Clock) remaining(side color.Color) time.Duration {
	if side == color.White {
		return c.white
	}

	return c.black
}

func clampMs(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}

	return d.Milliseconds()
}

// FormatClockTime formats a duration in milliseconds to a user-friendly string (e.g., "1:30")
func FormatClockTime(timeMs int64) string {
	if timeMs < 0 {
		timeMs = 0
	}

	totalSeconds := timeMs / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	// For times less than 10 seconds, show decimal
	if timeMs < 10000 {
		tenths := (timeMs % 1000) / 100
		return fmt.Sprintf("%d.%d", totalSeconds, tenths)
	}

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
