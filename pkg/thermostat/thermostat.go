// Package thermostat polls a locally attached thermostat and reports it as a
// climate entity.
package thermostat

import (
	"context"

	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

type Thermostat interface {
	// State returns the thermostat as a climate entity with
	// current_temperature, temperature, hvac_action and fan_mode attributes.
	State() (*state.Entity, error)
	SetTarget(temp float64) error
}

// PollJob reads t every minute at second 50 and hands the entity to sink.
func PollJob(t Thermostat, alarms *alarm.ActiveAlarms, sink func(state.Entity)) cron.Job {
	return cron.Job{
		Name: "thermostat-poll",
		Spec: cron.Spec{Seconds: []int{50}},
		Run: func(ctx context.Context) {
			e, err := t.State()
			alarms.Set(alarm.Thermostat, err)
			if err != nil {
				logrus.Errorf("thermostat: error reading state: %s", err)
				return
			}
			sink(*e)
		},
	}
}
