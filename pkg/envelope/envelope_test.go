package envelope

import (
	"testing"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/stretchr/testify/assert"
)

func prefs(away, home string, savings int) config.Preferences {
	return config.Preferences{
		HomeTemperature: 72,
		TimeAway:        away,
		TimeHome:        home,
		SavingsLevel:    savings,
	}
}

func TestBuildWorkday(t *testing.T) {
	e := Build(prefs("08:00", "17:00", 2))

	assert.Len(t, e.HighTemperatures, SlotsPerDay)
	assert.Len(t, e.LowTemperatures, SlotsPerDay)
	assert.Equal(t, 30, e.IntervalMinutes)
	assert.Equal(t, 48, e.TotalIntervals)

	for i := 16; i <= 34; i++ {
		assert.InDelta(t, 79.4, e.HighTemperatures[i], 1e-9, "slot %d", i)
		assert.InDelta(t, 64.6, e.LowTemperatures[i], 1e-9, "slot %d", i)
	}
	assert.InDelta(t, 73.4, e.HighTemperatures[0], 1e-9)
	assert.InDelta(t, 70.6, e.LowTemperatures[0], 1e-9)
	assert.InDelta(t, 73.4, e.HighTemperatures[15], 1e-9)
	assert.InDelta(t, 73.4, e.HighTemperatures[35], 1e-9)
	assert.InDelta(t, 70.6, e.LowTemperatures[47], 1e-9)
	assert.NoError(t, e.Validate())
}

func TestBuildAllValidPairs(t *testing.T) {
	for away := 0; away < SlotsPerDay; away++ {
		for home := away; home < SlotsPerDay; home++ {
			p := prefs(clock(away), clock(home), 3)
			e := Build(p)
			if !assert.NoError(t, e.Validate()) {
				return
			}
			for i := 0; i < SlotsPerDay; i++ {
				if i < away || i > home {
					assert.InDelta(t, 72+DeadbandOffset, e.HighTemperatures[i], 1e-9)
					assert.InDelta(t, 72-DeadbandOffset, e.LowTemperatures[i], 1e-9)
				}
			}
		}
	}
}

func TestBuildAwayAfterHome(t *testing.T) {
	e := Build(prefs("18:00", "07:00", 3))
	for i := 0; i < SlotsPerDay; i++ {
		assert.InDelta(t, 73.4, e.HighTemperatures[i], 1e-9)
		assert.InDelta(t, 70.6, e.LowTemperatures[i], 1e-9)
	}
}

func TestBuildDeterministic(t *testing.T) {
	assert.Equal(t, Build(prefs("09:30", "16:00", 1)), Build(prefs("09:30", "16:00", 1)))
}

func TestSavingsOffset(t *testing.T) {
	var tests = []struct {
		level    int
		expected float64
	}{
		{1, 2},
		{2, 6},
		{3, 12},
		{0, 6},
		{4, 6},
		{-1, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, SavingsOffset(tt.level), "level %d", tt.level)
	}
}

func TestSlotIndex(t *testing.T) {
	var tests = []struct {
		given    string
		expected int
	}{
		{"00:00", 0},
		{"00:29", 0},
		{"00:30", 1},
		{"08:00", 16},
		{"10:15", 20},
		{"17:00", 34},
		{"17:00:59", 34},
		{"23:59", 47},
		{"", DefaultSlot},
		{"8am", DefaultSlot},
		{"24:00", DefaultSlot},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, SlotIndex(tt.given), "given %q", tt.given)
	}
}

func TestSlotAt(t *testing.T) {
	ts := time.Date(2025, 7, 1, 10, 0, 0, 0, time.Local)
	assert.Equal(t, 20, SlotAt(ts))
	assert.Equal(t, 47, SlotAt(ts.Add(13*time.Hour+59*time.Minute)))
}

func TestValidate(t *testing.T) {
	e := Build(prefs("08:00", "17:00", 1))
	e.LowTemperatures[3] = e.HighTemperatures[3] + 1
	assert.Error(t, e.Validate())

	short := &Envelope{HighTemperatures: []float64{1}, LowTemperatures: []float64{0}}
	assert.Error(t, short.Validate())
}

func clock(slot int) string {
	return time.Date(0, 1, 1, slot/2, (slot%2)*30, 0, 0, time.UTC).Format("15:04")
}
