package coordinator

import (
	"time"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/backend"
	"github.com/nergy-se/curvecontrol/pkg/envelope"
)

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseFetchingRates    Phase = "fetching_rates"
	PhaseBuildingEnvelope Phase = "building_envelope"
	PhaseCallingOptimizer Phase = "calling_optimizer"
	PhaseSucceeded        Phase = "succeeded"
	PhaseFailed           Phase = "failed"
)

type Status struct {
	Preferences    config.Preferences `json:"preferences"`
	Mode           types.Mode         `json:"optimizationMode"`
	CustomSchedule bool               `json:"customSchedule"`
	Rates          Rates              `json:"thermalRates"`
	Phase          Phase              `json:"phase"`
	LastOutcome    string             `json:"lastOutcome,omitempty"`
	LastError      string             `json:"lastError,omitempty"`
	ResultDate     string             `json:"resultDate,omitempty"`
	Setpoint       *float64           `json:"setpoint"`
	HighBounds     []float64          `json:"highBounds,omitempty"`
	LowBounds      []float64          `json:"lowBounds,omitempty"`
	CostSavings    *float64           `json:"costSavings,omitempty"`
	PercentSavings *float64           `json:"percentSavings,omitempty"`
	CO2Avoided     *float64           `json:"co2Avoided,omitempty"`
	CarsEquivalent *float64           `json:"carsEquivalent,omitempty"`
}

func (c *Coordinator) Status() Status {
	now := c.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s := Status{
		Preferences:    c.prefs,
		Mode:           c.prefs.Mode,
		CustomSchedule: c.custom != nil,
		Rates:          c.rates.clone(),
		Phase:          c.phase,
		LastOutcome:    c.lastOutcome,
		LastError:      c.lastError,
		ResultDate:     c.resultDate,
	}
	if c.result != nil {
		s.Setpoint = setpoint(c.result, now)
		s.HighBounds, s.LowBounds, _ = c.result.Bounds()
		s.CostSavings = c.result.Metric("costSavings")
		s.PercentSavings = c.result.Metric("percentSavings")
		s.CO2Avoided = c.result.Metric("co2Avoided")
		s.CarsEquivalent = c.result.Metric("carsEquivalent")
	}
	return s
}

func (c *Coordinator) Mode() types.Mode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.prefs.Mode
}

func (c *Coordinator) Preferences() config.Preferences {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.prefs
}

func (c *Coordinator) Rates() Rates {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.rates.clone()
}

// Result returns the current optimization result and the local date it was stored, or nil.
func (c *Coordinator) Result() (*backend.Result, string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.result, c.resultDate
}

// CurrentSetpoint returns the optimized setpoint for the half hour slot of now, or nil.
func (c *Coordinator) CurrentSetpoint(now time.Time) *float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return setpoint(c.result, now)
}

// ScheduleBounds returns the high and low bounds the optimizer echoed in
// HourlyTemperature, if present.
func (c *Coordinator) ScheduleBounds() (high, low []float64, ok bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.result == nil {
		return nil, nil, false
	}
	return c.result.Bounds()
}

func setpoint(res *backend.Result, now time.Time) *float64 {
	if res == nil {
		return nil
	}
	slot := envelope.SlotAt(now)
	if slot >= len(res.BestTempActual) {
		return nil
	}
	v := res.BestTempActual[slot]
	return &v
}
