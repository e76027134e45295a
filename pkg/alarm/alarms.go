package alarm

import "sync"

const (
	Optimization = "optimization"
	Upload       = "upload"
	Summary      = "daily-summary"
	Thermostat   = "thermostat"
	RoomSensor   = "room-sensor"
)

type ActiveAlarms struct {
	activeAlarms []string
	sync.RWMutex
}

// Add adds string to alarm list and returns true if it was added. returns false if it already exists.
func (a *ActiveAlarms) Add(alarm string) bool {
	if a == nil {
		return false
	}
	a.Lock()
	defer a.Unlock()
	for _, activeAlarm := range a.activeAlarms {
		if activeAlarm == alarm {
			return false
		}
	}

	a.activeAlarms = append(a.activeAlarms, alarm)
	return true
}

// Remove returns true if the alarm was active.
func (a *ActiveAlarms) Remove(alarm string) bool {
	if a == nil {
		return false
	}
	a.Lock()
	defer a.Unlock()
	for i, activeAlarm := range a.activeAlarms {
		if activeAlarm == alarm {
			a.activeAlarms = append(a.activeAlarms[:i], a.activeAlarms[i+1:]...)
			return true
		}
	}
	return false
}

// Set adds the alarm when err is non nil and removes it otherwise.
func (a *ActiveAlarms) Set(alarm string, err error) {
	if err != nil {
		a.Add(alarm)
		return
	}
	a.Remove(alarm)
}

func (a *ActiveAlarms) Clear() bool {
	hasActive := false
	a.Lock()
	if len(a.activeAlarms) > 0 {
		hasActive = true
		a.activeAlarms = nil
	}
	a.Unlock()
	return hasActive
}

func (a *ActiveAlarms) List() []string {
	if a == nil {
		return nil
	}
	a.RLock()
	defer a.RUnlock()
	list := make([]string, len(a.activeAlarms))
	copy(list, a.activeAlarms)
	return list
}
