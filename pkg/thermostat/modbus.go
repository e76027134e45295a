package thermostat

import (
	"fmt"

	"github.com/nergy-se/curvecontrol/pkg/modbusclient"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

// Holding registers, temperatures in tenths of a degree.
const (
	regCurrentTemperature = 0
	regTargetTemperature  = 1
	regHvacMode           = 2 // 0 off, 1 heat, 2 cool, 3 auto
	regFanMode            = 4 // 0 auto, 1 on
)

// Input registers.
const (
	regHvacAction = 3 // 0 idle, 1 heating, 2 cooling
	regHumidity   = 5 // percent in tenths, 0 when no sensor
)

var hvacModes = map[int]string{0: "off", 1: "heat", 2: "cool", 3: "auto"}
var hvacActions = map[int]string{0: "idle", 1: "heating", 2: "cooling"}
var fanModes = map[int]string{0: "auto", 1: "on"}

type Modbus struct {
	client   modbusclient.Client
	entityID string
}

func NewModbus(client modbusclient.Client, entityID string) *Modbus {
	return &Modbus{
		client:   client,
		entityID: entityID,
	}
}

func (ts *Modbus) State() (*state.Entity, error) {
	current, err := modbusclient.Scale10(ts.client.ReadHoldingRegister16(regCurrentTemperature))
	if err != nil {
		return nil, err
	}
	target, err := modbusclient.Scale10(ts.client.ReadHoldingRegister16(regTargetTemperature))
	if err != nil {
		return nil, err
	}
	mode, err := ts.client.ReadHoldingRegister16(regHvacMode)
	if err != nil {
		return nil, err
	}
	fan, err := ts.client.ReadHoldingRegister16(regFanMode)
	if err != nil {
		return nil, err
	}
	action, err := ts.client.ReadInputRegister(regHvacAction)
	if err != nil {
		return nil, err
	}

	e := &state.Entity{
		ID:    ts.entityID,
		State: lookup(hvacModes, mode),
		Attributes: map[string]interface{}{
			"current_temperature": current,
			"temperature":         target,
			"hvac_action":         lookup(hvacActions, action),
			"fan_mode":            lookup(fanModes, fan),
		},
	}

	humidity, err := modbusclient.Scale10(ts.client.ReadInputRegister(regHumidity))
	if err != nil {
		logrus.Debugf("thermostat: no humidity: %s", err)
	} else if humidity > 0 {
		e.Attributes["current_humidity"] = humidity
	}

	logrus.WithFields(logrus.Fields{
		"current": current,
		"target":  target,
		"mode":    e.State,
		"action":  e.Attributes["hvac_action"],
	}).Debug("thermostat: read state")
	return e, nil
}

func (ts *Modbus) SetTarget(temp float64) error {
	_, err := ts.client.WriteSingleRegister(regTargetTemperature, modbusclient.Unscale10(temp))
	if err != nil {
		return fmt.Errorf("error writing target temperature: %w", err)
	}
	logrus.WithField("target", temp).Info("thermostat: target temperature set")
	return nil
}

func lookup(m map[int]string, v int) string {
	if s, ok := m[v]; ok {
		return s
	}
	return state.StateUnknown
}
