package clock

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// UnlimitedKey is the matching key of games without a clock.
const UnlimitedKey = "unlimited"

// TimeControl is the initial time of each side. The zero value is an unlimited game.
type TimeControl struct {
	Initial time.Duration
}

// Unlimited returns a time control without a clock.
func Unlimited() TimeControl {
	return TimeControl{}
}

// Minutes returns a time control of m minutes per side. Non-positive or non-finite values are unlimited.
func Minutes(m float64) TimeControl {
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return Unlimited()
	}

	return TimeControl{Initial: time.Duration(m * float64(time.Minute)).Round(time.Millisecond)}
}

// IsUnlimited reports whether the game runs without a clock.
func (tc TimeControl) IsUnlimited() bool {
	return tc.Initial <= 0
}

// Key is the value two requests must share to be paired.
func (tc TimeControl) Key() string {
	if tc.IsUnlimited() {
		return UnlimitedKey
	}

	return strconv.FormatInt(tc.Initial.Milliseconds(), 10)
}

// Millis is the initial time in milliseconds, zero when unlimited.
func (tc TimeControl) Millis() int64 {
	if tc.IsUnlimited() {
		return 0
	}

	return tc.Initial.Milliseconds()
}

func (tc TimeControl) String() string {
	if tc.IsUnlimited() {
		return UnlimitedKey
	}

	return fmt.Sprintf("%gm", tc.Initial.Minutes())
}

// MarshalJSON encodes minutes, or null for unlimited.
func (tc TimeControl) MarshalJSON() ([]byte, error) {
	if tc.IsUnlimited() {
		return []byte("null"), nil
	}

	return json.Marshal(tc.Initial.Minutes())
}

// UnmarshalJSON decodes minutes, or null for unlimited.
func (tc *TimeControl) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*tc = Unlimited()
		return nil
	}

	var minutes float64
	if err := json.Unmarshal(data, &minutes); err != nil {
		return fmt.Errorf("time control: %w", err)
	}

	*tc = Minutes(minutes)
	return nil
}
