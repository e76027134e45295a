package thermostat

import (
	"math/rand"
	"sync"

	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

// Dummy simulates a thermostat drifting towards its target. Used for development without hardware.
type Dummy struct {
	entityID string
	current  float64
	target   float64
	sync.Mutex
}

func NewDummy(entityID string, target float64) *Dummy {
	return &Dummy{
		entityID: entityID,
		current:  target + 2,
		target:   target,
	}
}

func (ts *Dummy) State() (*state.Entity, error) {
	ts.Lock()
	defer ts.Unlock()

	action := "idle"
	switch {
	case ts.current > ts.target+0.5:
		action = "cooling"
		ts.current -= 0.2
	case ts.current < ts.target-0.5:
		action = "heating"
		ts.current += 0.2
	default:
		ts.current += (rand.Float64() - 0.5) / 5
	}

	return &state.Entity{
		ID:    ts.entityID,
		State: "auto",
		Attributes: map[string]interface{}{
			"current_temperature": ts.current,
			"temperature":         ts.target,
			"hvac_action":         action,
			"fan_mode":            "auto",
		},
	}, nil
}

func (ts *Dummy) SetTarget(temp float64) error {
	logrus.Info("dummy: SetTarget: ", temp)
	ts.Lock()
	ts.target = temp
	ts.Unlock()
	return nil
}
