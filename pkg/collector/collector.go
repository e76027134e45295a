package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/backend"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/metrics"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/nergy-se/curvecontrol/pkg/weather"
	"github.com/sirupsen/logrus"
)

const dateFormat = "2006-01-02"

type Uploader interface {
	SendSensorData(ctx context.Context, readings []backend.Reading) error
	SendDailySummary(ctx context.Context, summary *backend.DailySummary) (*backend.ThermalRates, error)
}

// Coordinator is the part of the optimization coordinator the collector reads from and feeds.
type Coordinator interface {
	Mode() types.Mode
	AdoptRates(rates *backend.ThermalRates)
}

type Entities struct {
	Temperature string
	Hvac        string
	Thermostat  string
	Humidity    string
}

type Collector struct {
	registry    *state.Registry
	uploader    Uploader
	coordinator Coordinator
	weather     weather.Provider
	alarms      *alarm.ActiveAlarms
	entities    Entities
	userID      string
	now         func() time.Time

	buffer  *Buffer
	actions *ActionLog
}

func New(registry *state.Registry, uploader Uploader, coordinator Coordinator, wp weather.Provider, alarms *alarm.ActiveAlarms, entities Entities, userID string) *Collector {
	return &Collector{
		registry:    registry,
		uploader:    uploader,
		coordinator: coordinator,
		weather:     wp,
		alarms:      alarms,
		entities:    entities,
		userID:      userID,
		now:         time.Now,
		buffer:      &Buffer{},
		actions:     NewActionLog(nil),
	}
}

// Jobs returns the sampling, hourly upload and daily summary triggers.
func (c *Collector) Jobs() []cron.Job {
	return []cron.Job{
		{Name: "sample", Spec: cron.EveryNthMinute(5, 0), Run: func(ctx context.Context) { c.Sample() }},
		{Name: "hourly-upload", Spec: cron.Hourly(0, 1), Run: func(ctx context.Context) { c.Flush(ctx) }},
		{Name: "daily-summary", Spec: cron.Daily(0, 5, 0), Run: func(ctx context.Context) { c.SendDailySummary(ctx) }},
	}
}

func (c *Collector) Pending() int {
	return c.buffer.Len()
}

// LogUserInput records a user action for the next daily summary.
func (c *Collector) LogUserInput(service string, data interface{}) {
	a := c.actions.Log(service, data)
	logrus.WithFields(logrus.Fields{"service": service, "id": a.ID}).Debug("logged user input")
}

// Sample reads the configured entities and appends a reading. Nothing is
// appended when required state is missing.
func (c *Collector) Sample() bool {
	r, err := c.reading()
	if err != nil {
		logrus.WithField("entity", c.entities.Thermostat).Warnf("skipping sample: %s", err)
		return false
	}
	n := c.buffer.Append(*r)
	metrics.PendingReadings.Set(float64(n))
	logrus.WithFields(logrus.Fields{
		"indoor_temp": r.IndoorTemp,
		"hvac_state":  r.HvacState,
		"pending":     n,
	}).Debug("collected reading")
	return true
}

func (c *Collector) reading() (*backend.Reading, error) {
	temp := c.registry.Get(c.entities.Temperature)
	hvac := c.registry.Get(c.entities.Hvac)
	thermostat := c.registry.Get(c.entities.Thermostat)
	if temp == nil || hvac == nil || thermostat == nil {
		return nil, fmt.Errorf("missing required sensor states")
	}

	r := &backend.Reading{
		Timestamp:        c.now().Format(time.RFC3339),
		HvacState:        types.HvacActionOff,
		OptimizationMode: types.ModeOff,
	}

	if c.entities.Humidity != "" {
		if h := c.registry.Get(c.entities.Humidity); h != nil {
			if f, err := h.Float(); err == nil {
				r.IndoorHumidity = f
			}
		}
	}

	if hvac.Available() {
		mode := hvac.State
		r.HvacMode = &mode
	}
	if action := hvac.StringAttr("hvac_action"); action != nil {
		r.HvacState = types.NormalizeHvacAction(strings.ToUpper(*action))
	}
	r.FanMode = hvac.StringAttr("fan_mode")
	r.FanState = hvac.StringAttr("fan_state")

	switch {
	case temp.HasAttr("current_temperature"):
		f, ok := temp.FloatAttr("current_temperature")
		if !ok {
			return nil, fmt.Errorf("current_temperature of %s is not a number", temp.ID)
		}
		r.IndoorTemp = *f
	case temp.Available():
		f, err := temp.Float()
		if err != nil {
			return nil, err
		}
		r.IndoorTemp = *f
	default:
		return nil, fmt.Errorf("could not read indoor temperature from %s", temp.ID)
	}

	if f, ok := thermostat.FloatAttr("temperature"); ok {
		r.TargetTemp = *f
	}

	if c.coordinator != nil {
		r.OptimizationMode = c.coordinator.Mode()
	}
	r.OptimizationEnabled = r.OptimizationMode != types.ModeOff
	return r, nil
}

// Flush uploads every pending reading. On success exactly the uploaded
// readings are removed, on failure the buffer is left intact.
func (c *Collector) Flush(ctx context.Context) error {
	readings := c.buffer.Snapshot()
	if len(readings) == 0 {
		return nil
	}

	err := c.uploader.SendSensorData(ctx, readings)
	metrics.Uploads.WithLabelValues(backend.EndpointSensorData, metrics.Outcome(err)).Inc()
	c.alarms.Set(alarm.Upload, err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"endpoint": backend.EndpointSensorData,
			"count":    len(readings),
		}).Errorf("failed to send sensor readings: %s", err)
		return err
	}

	left := c.buffer.Drop(len(readings))
	metrics.PendingReadings.Set(float64(left))
	logrus.WithFields(logrus.Fields{
		"endpoint": backend.EndpointSensorData,
		"count":    len(readings),
	}).Debug("sent sensor readings")
	return nil
}

// SendDailySummary flushes pending readings and uploads yesterdays rollup.
// Learned rates in the reply are handed to the coordinator.
func (c *Collector) SendDailySummary(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		logrus.Warn("daily summary: continuing after failed flush")
	}

	var forecast *weather.Forecast
	if c.weather != nil {
		var err error
		forecast, err = c.weather.Forecast(ctx)
		if err != nil {
			logrus.Warnf("could not fetch weather forecast: %s", err)
		}
	}

	actions := c.actions.Snapshot()
	summary := &backend.DailySummary{
		UserID: c.userID,
		Date:   c.now().AddDate(0, 0, -1).Format(dateFormat),
		UserInputs: backend.UserInputs{
			InputsToday:  len(actions),
			ServicesUsed: actions,
		},
		WeatherForecast:  forecast,
		OptimizationMode: types.ModeOff,
	}
	if c.coordinator != nil {
		summary.OptimizationMode = c.coordinator.Mode()
	}

	rates, err := c.uploader.SendDailySummary(ctx, summary)
	metrics.Uploads.WithLabelValues(backend.EndpointDailySummary, metrics.Outcome(err)).Inc()
	c.alarms.Set(alarm.Summary, err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"endpoint": backend.EndpointDailySummary,
			"date":     summary.Date,
		}).Errorf("failed to send daily summary: %s", err)
		return err
	}

	c.actions.Forget(actions)
	logrus.WithFields(logrus.Fields{
		"date":         summary.Date,
		"inputs_today": len(actions),
	}).Info("daily summary sent")

	if rates != nil && c.coordinator != nil {
		c.coordinator.AdoptRates(rates)
	}
	return nil
}
