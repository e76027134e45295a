package coordinator

import (
	"time"

	"github.com/nergy-se/curvecontrol/pkg/backend"
)

// Defaults in degrees per 30 minutes, used until rates have been learned.
const (
	DefaultHeatingRate = 1.25
	DefaultCoolingRate = -1.9335
)

type Rates struct {
	backend.ThermalRates
	FetchedAt time.Time `json:"fetched_at"`
}

func (r Rates) HeatUp() float64 {
	if r.HeatingRate == nil {
		return DefaultHeatingRate
	}
	return *r.HeatingRate
}

func (r Rates) CoolDown() float64 {
	if r.CoolingRate == nil {
		return DefaultCoolingRate
	}
	return *r.CoolingRate
}

func (r Rates) clone() Rates {
	c := Rates{FetchedAt: r.FetchedAt}
	c.HeatingRate = copyFloat(r.HeatingRate)
	c.CoolingRate = copyFloat(r.CoolingRate)
	c.NaturalRate = copyFloat(r.NaturalRate)
	return c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
