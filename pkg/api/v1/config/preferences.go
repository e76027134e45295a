package config

import (
	"fmt"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
)

// Preferences is what the user wants the optimizer to honour.
// The json names are the optimizer request names.
type Preferences struct {
	AnonymousID     string     `json:"anonymousId"`
	HomeSize        int        `json:"homeSize"`
	HomeTemperature float64    `json:"homeTemperature"`
	Location        int        `json:"location"`
	TimeAway        string     `json:"timeAway"`
	TimeHome        string     `json:"timeHome"`
	SavingsLevel    int        `json:"savingsLevel"`
	Mode            types.Mode `json:"-"`
}

// TruncateClock cuts HH:MM:SS down to HH:MM. Shorter values are returned as is.
func TruncateClock(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

// ParseClock truncates to HH:MM and fails on anything that is not a valid 24h clock.
func ParseClock(s string) (string, error) {
	v := TruncateClock(s)
	if _, err := time.Parse("15:04", v); err != nil {
		return "", fmt.Errorf("invalid time %q, expected HH:MM: %w", s, err)
	}
	return v, nil
}
