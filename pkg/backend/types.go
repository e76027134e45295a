package backend

import (
	"encoding/json"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/envelope"
	"github.com/nergy-se/curvecontrol/pkg/weather"
)

// ThermalRates are learned degrees per 30 minutes. A nil rate was not learned.
type ThermalRates struct {
	HeatingRate *float64 `json:"heating_rate"`
	CoolingRate *float64 `json:"cooling_rate"`
	NaturalRate *float64 `json:"natural_rate"`
}

func (r *ThermalRates) Empty() bool {
	return r == nil || (r.HeatingRate == nil && r.CoolingRate == nil && r.NaturalRate == nil)
}

type OptimizeRequest struct {
	config.Preferences
	TemperatureSchedule *envelope.Envelope `json:"temperatureSchedule"`
	HeatUpRate          float64            `json:"heatUpRate"`
	CoolDownRate        float64            `json:"coolDownRate"`
	Mode                types.Mode         `json:"mode"`

	// NaturalRate is only sent when learned. The optimizer picks a mode aware default otherwise.
	NaturalRate *float64 `json:"naturalRate,omitempty"`
}

type StorePreferences struct {
	HomeSize          int        `json:"home_size"`
	BaseTemperature   float64    `json:"base_temperature"`
	TargetTemperature float64    `json:"target_temperature"`
	Location          int        `json:"location"`
	SavingsLevel      int        `json:"savings_level"`
	TimeAway          string     `json:"time_away"`
	TimeHome          string     `json:"time_home"`
	HighTemperatures  []float64  `json:"high_temperatures"`
	LowTemperatures   []float64  `json:"low_temperatures"`
	HeatingRate       *float64   `json:"heating_rate"`
	CoolingRate       *float64   `json:"cooling_rate"`
	NaturalRate       *float64   `json:"natural_rate"`
	OptimizationMode  types.Mode `json:"optimization_mode"`
}

type SavePreferencesRequest struct {
	UserID                string            `json:"user_id"`
	Preferences           StorePreferences  `json:"preferences"`
	WeatherForecast       *weather.Forecast `json:"weather_forecast"`
	ImmediateOptimization bool              `json:"immediate_optimization"`

	// OptimizationResults carries an already computed result so the store does not recompute it.
	OptimizationResults *Result `json:"optimization_results,omitempty"`
}

type SavePreferencesResponse struct {
	Status       string          `json:"status"`
	Optimization json.RawMessage `json:"optimization"`
}

func (r *SavePreferencesResponse) Success() bool {
	return r.Status == "success"
}

// OptimizationResult returns nil when the store did not echo a result.
func (r *SavePreferencesResponse) OptimizationResult() (*Result, error) {
	if isNull(r.Optimization) {
		return nil, nil
	}
	return ParseResult(r.Optimization)
}

// Reading is one telemetry sample as uploaded to sensor-data.
type Reading struct {
	Timestamp           string           `json:"timestamp"`
	IndoorTemp          float64          `json:"indoor_temp"`
	IndoorHumidity      *float64         `json:"indoor_humidity"`
	HvacMode            *string          `json:"hvac_mode"`
	HvacState           types.HvacAction `json:"hvac_state"`
	FanMode             *string          `json:"fan_mode"`
	FanState            *string          `json:"fan_state"`
	TargetTemp          float64          `json:"target_temp"`
	OptimizationEnabled bool             `json:"optimization_enabled"`
	OptimizationMode    types.Mode       `json:"optimization_mode"`
}

type UserAction struct {
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Service   string      `json:"service"`
	Data      interface{} `json:"data"`
}

type UserInputs struct {
	InputsToday  int          `json:"inputs_today"`
	ServicesUsed []UserAction `json:"services_used"`
}

type DailySummary struct {
	UserID           string            `json:"user_id"`
	Date             string            `json:"date"`
	UserInputs       UserInputs        `json:"user_inputs"`
	WeatherForecast  *weather.Forecast `json:"weather_forecast"`
	OptimizationMode types.Mode        `json:"optimization_mode"`
}
