package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/envelope"
)

var ErrInvalidPatch = errors.New("invalid schedule update")

// Patch is a partial preferences update keyed by the optimizer field names.
// Unknown keys are ignored.
type Patch map[string]json.RawMessage

type update struct {
	homeSize        *int
	homeTemperature *float64
	location        *int
	savingsLevel    *int
	timeAway        *string
	timeHome        *string
	mode            *types.Mode
	schedule        *envelope.Envelope
}

func invalid(key string, err error) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPatch, key, err)
}

func decodeField[K any](p Patch, key string) (*K, error) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var v K
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, invalid(key, err)
	}
	return &v, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// parse validates the whole patch before anything is applied.
func (p Patch) parse() (*update, error) {
	u := &update{}
	var err error
	if u.homeSize, err = decodeField[int](p, "homeSize"); err != nil {
		return nil, err
	}
	if u.homeTemperature, err = decodeField[float64](p, "homeTemperature"); err != nil {
		return nil, err
	}
	if u.location, err = decodeField[int](p, "location"); err != nil {
		return nil, err
	}
	if u.savingsLevel, err = decodeField[int](p, "savingsLevel"); err != nil {
		return nil, err
	}

	for key, dst := range map[string]**string{"timeAway": &u.timeAway, "timeHome": &u.timeHome} {
		s, err := decodeField[string](p, key)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		clock, err := config.ParseClock(*s)
		if err != nil {
			return nil, invalid(key, err)
		}
		*dst = &clock
	}

	s, err := decodeField[string](p, "optimizationMode")
	if err != nil {
		return nil, err
	}
	if s != nil {
		mode, err := types.ParseMode(*s)
		if err != nil {
			return nil, invalid("optimizationMode", err)
		}
		u.mode = &mode
	}

	if u.schedule, err = decodeField[envelope.Envelope](p, "temperatureSchedule"); err != nil {
		return nil, err
	}
	if u.schedule != nil {
		if err := u.schedule.Validate(); err != nil {
			return nil, invalid("temperatureSchedule", err)
		}
		if u.schedule.IntervalMinutes == 0 {
			u.schedule.IntervalMinutes = envelope.SlotMinutes
		}
		if u.schedule.TotalIntervals == 0 {
			u.schedule.TotalIntervals = envelope.SlotsPerDay
		}
	}
	return u, nil
}

func (u *update) apply(p *config.Preferences) {
	if u.homeSize != nil {
		p.HomeSize = *u.homeSize
	}
	if u.homeTemperature != nil {
		p.HomeTemperature = *u.homeTemperature
	}
	if u.location != nil {
		p.Location = *u.location
	}
	if u.savingsLevel != nil {
		p.SavingsLevel = *u.savingsLevel
	}
	if u.timeAway != nil {
		p.TimeAway = *u.timeAway
	}
	if u.timeHome != nil {
		p.TimeHome = *u.timeHome
	}
	if u.mode != nil {
		p.Mode = *u.mode
	}
}
