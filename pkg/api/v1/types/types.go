package types

import (
	"fmt"
	"strings"
)

type Mode string

var ModeOff = Mode("off")
var ModeCool = Mode("cool")
var ModeHeat = Mode("heat")

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeCool, ModeHeat:
		return m, nil
	}
	return "", fmt.Errorf("invalid optimization mode %q", s)
}

// HvacAction is what the HVAC is actually doing, as reported upstream.
type HvacAction string

var HvacActionHeat = HvacAction("HEAT")
var HvacActionCool = HvacAction("COOL")
var HvacActionOff = HvacAction("OFF")

// NormalizeHvacAction maps climate entity actions like "heating" to HEAT/COOL/OFF.
func NormalizeHvacAction(action string) HvacAction {
	switch strings.ToUpper(action) {
	case "HEATING":
		return HvacActionHeat
	case "COOLING":
		return HvacActionCool
	}
	return HvacActionOff
}
