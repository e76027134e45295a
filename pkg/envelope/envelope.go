// Package envelope turns preferences into the 48 slot high/low temperature
// bounds the optimizer works within.
package envelope

import (
	"fmt"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
)

const (
	SlotsPerDay    = 48
	SlotMinutes    = 30
	DefaultSlot    = 16 // 08:00
	DeadbandOffset = 1.4
	defaultSavings = 6.0
	lastSlot       = SlotsPerDay - 1
)

var savingsOffsets = map[int]float64{
	1: 2,
	2: 6,
	3: 12,
}

type Envelope struct {
	HighTemperatures []float64 `json:"highTemperatures"`
	LowTemperatures  []float64 `json:"lowTemperatures"`
	IntervalMinutes  int       `json:"intervalMinutes"`
	TotalIntervals   int       `json:"totalIntervals"`
}

// Validate checks the slot count and that no low bound is above its high bound.
func (e *Envelope) Validate() error {
	if len(e.HighTemperatures) != SlotsPerDay || len(e.LowTemperatures) != SlotsPerDay {
		return fmt.Errorf("envelope must have %d high and low temperatures, got %d/%d",
			SlotsPerDay, len(e.HighTemperatures), len(e.LowTemperatures))
	}
	for i := range e.HighTemperatures {
		if e.HighTemperatures[i] < e.LowTemperatures[i] {
			return fmt.Errorf("slot %d: high %.2f below low %.2f", i, e.HighTemperatures[i], e.LowTemperatures[i])
		}
	}
	return nil
}

func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		HighTemperatures: append([]float64(nil), e.HighTemperatures...),
		LowTemperatures:  append([]float64(nil), e.LowTemperatures...),
		IntervalMinutes:  e.IntervalMinutes,
		TotalIntervals:   e.TotalIntervals,
	}
}

// Build derives the basic envelope. Slots from away through home (inclusive)
// get the savings offset on top of the deadband. If away is after home no slot
// is treated as away.
func Build(p config.Preferences) *Envelope {
	away := SlotIndex(p.TimeAway)
	home := SlotIndex(p.TimeHome)
	offset := SavingsOffset(p.SavingsLevel)
	base := p.HomeTemperature

	e := &Envelope{
		HighTemperatures: make([]float64, SlotsPerDay),
		LowTemperatures:  make([]float64, SlotsPerDay),
		IntervalMinutes:  SlotMinutes,
		TotalIntervals:   SlotsPerDay,
	}
	for i := 0; i < SlotsPerDay; i++ {
		if away <= i && i <= home {
			e.HighTemperatures[i] = base + offset + DeadbandOffset
			e.LowTemperatures[i] = base - offset - DeadbandOffset
			continue
		}
		e.HighTemperatures[i] = base + DeadbandOffset
		e.LowTemperatures[i] = base - DeadbandOffset
	}
	return e
}

// SlotIndex converts HH:MM (or HH:MM:SS) to a 30 minute slot. Unparseable
// input falls back to DefaultSlot.
func SlotIndex(clock string) int {
	t, err := time.Parse("15:04", config.TruncateClock(clock))
	if err != nil {
		return DefaultSlot
	}
	return clamp((t.Hour()*60 + t.Minute()) / SlotMinutes)
}

// SlotAt returns the slot the wall clock time falls into.
func SlotAt(t time.Time) int {
	return t.Hour()*2 + t.Minute()/SlotMinutes
}

func SavingsOffset(level int) float64 {
	if o, ok := savingsOffsets[level]; ok {
		return o
	}
	return defaultSavings
}

func clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i > lastSlot {
		return lastSlot
	}
	return i
}
