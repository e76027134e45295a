package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHvacAction(t *testing.T) {
	var tests = []struct {
		given    string
		expected HvacAction
	}{
		{given: "heating", expected: HvacActionHeat},
		{given: "HEATING", expected: HvacActionHeat},
		{given: "cooling", expected: HvacActionCool},
		{given: "idle", expected: HvacActionOff},
		{given: "fan", expected: HvacActionOff},
		{given: "", expected: HvacActionOff},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeHvacAction(tt.given), "given %q", tt.given)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Heat ")
	assert.NoError(t, err)
	assert.Equal(t, ModeHeat, m)

	_, err = ParseMode("auto")
	assert.Error(t, err)
}
