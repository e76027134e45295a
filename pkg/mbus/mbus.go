package mbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonaz/gombus"
	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

// Mbus reads a wired room climate sensor over a serial M-Bus master.
type Mbus struct {
	device string
	conn   gombus.Conn
	mutex  *sync.Mutex
}

func New(device string) *Mbus {
	return &Mbus{
		device: device,
		mutex:  &sync.Mutex{},
	}
}

func (m *Mbus) init() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.conn != nil {
		return nil
	}
	c, err := gombus.DialSerial(m.device)
	if err != nil {
		return err
	}
	m.conn = c
	return nil
}

func (m *Mbus) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

// ReadValues reads the sensor at primaryID and returns it as a sensor entity
// with the relative humidity as state and the temperature as attribute.
func (m *Mbus) ReadValues(model string, primaryID int, entityID string) (*state.Entity, error) {
	err := m.init()
	if err != nil {
		return nil, err
	}

	frame, err := m.read(primaryID)
	if err != nil {
		m.Close()
		return nil, err
	}

	values := make([]float64, len(frame.DataRecords))
	for i, r := range frame.DataRecords {
		values[i] = r.Value
	}
	return decode(model, entityID, values)
}

func decode(model, entityID string, values []float64) (*state.Entity, error) {
	e := &state.Entity{
		ID:          entityID,
		Attributes:  map[string]interface{}{"model": model},
		LastUpdated: time.Now(),
	}
	switch model {
	case "elvaco-CMa11":
		// 0 temperature, 1 relative humidity
		if len(values) < 2 {
			return nil, fmt.Errorf("mbus: %s expected 2 data records got %d", model, len(values))
		}
		e.State = fmt.Sprintf("%.1f", values[1])
		e.Attributes["temperature"] = values[0]
		e.Attributes["unit_of_measurement"] = "%"
	default:
		return nil, fmt.Errorf("mbus: unsupported model %q", model)
	}
	return e, nil
}

func (m *Mbus) read(primaryAddr int) (*gombus.DecodedFrame, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, err := m.conn.Write(gombus.SndNKE(uint8(primaryAddr)))
	if err != nil {
		return nil, err
	}

	err = m.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	if err != nil {
		return nil, err
	}

	_, err = gombus.ReadSingleCharFrame(m.conn)
	if err != nil {
		return nil, err
	}

	return gombus.ReadSingleFrame(m.conn, primaryAddr)
}

// PollJob reads the sensor every minute at second 50 and hands it to sink.
func (m *Mbus) PollJob(model string, primaryID int, entityID string, alarms *alarm.ActiveAlarms, sink func(state.Entity)) cron.Job {
	return cron.Job{
		Name: "mbus-poll",
		Spec: cron.Spec{Seconds: []int{50}},
		Run: func(ctx context.Context) {
			e, err := m.ReadValues(model, primaryID, entityID)
			alarms.Set(alarm.RoomSensor, err)
			if err != nil {
				logrus.Errorf("mbus: error reading %s: %s", entityID, err)
				return
			}
			sink(*e)
		},
	}
}
