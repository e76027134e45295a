package app

import (
	"context"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/mqtt"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

// sleepContext returns false if ctx was done before d passed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// storeEntity is the sink for local pollers. The entity is also published so
// other bus clients see the same state.
func (a *App) storeEntity(e state.Entity) {
	if e.LastUpdated.IsZero() {
		e.LastUpdated = time.Now()
	}
	a.registry.Set(e)
	if a.bus == nil {
		return
	}
	if err := mqtt.PublishEntity(a.bus, a.config.MQTTPrefix, e); err != nil {
		logrus.WithField("entity", e.ID).Errorf("error publishing entity: %s", err)
	}
}

// setpointJob republishes and applies the setpoint when a new half hour slot starts.
func (a *App) setpointJob(publisher *mqtt.Publisher) cron.Job {
	return cron.Job{
		Name: "setpoint",
		Spec: cron.EveryNthMinute(30, 1),
		Run: func(ctx context.Context) {
			sp := a.coordinator.CurrentSetpoint(time.Now())
			if publisher != nil {
				publisher.PublishSetpoint(sp)
			}
			a.applySetpoint(sp)
		},
	}
}

func (a *App) applySetpoint(sp *float64) {
	if sp == nil || a.thermostat == nil || !a.config.ApplySetpoint {
		return
	}
	if a.coordinator.Mode() == types.ModeOff {
		return
	}
	err := a.thermostat.SetTarget(*sp)
	a.alarms.Set(alarm.Thermostat, err)
	if err != nil {
		logrus.Errorf("error writing setpoint %.1f to thermostat: %s", *sp, err)
		return
	}
	logrus.WithField("setpoint", *sp).Info("applied setpoint to thermostat")
}
