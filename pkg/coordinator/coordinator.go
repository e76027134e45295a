// Package coordinator owns preferences, thermal rates and the last
// optimization result, and runs the refresh against the remote optimizer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/backend"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/debounce"
	"github.com/nergy-se/curvecontrol/pkg/envelope"
	"github.com/nergy-se/curvecontrol/pkg/metrics"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/nergy-se/curvecontrol/pkg/storage"
	"github.com/nergy-se/curvecontrol/pkg/weather"
	"github.com/sirupsen/logrus"
)

var (
	ErrRefreshFailed    = errors.New("optimization refresh failed")
	ErrNotAuthenticated = errors.New("not authenticated")
)

const dateFormat = "2006-01-02"

type Optimizer interface {
	GenerateSchedule(ctx context.Context, r *backend.OptimizeRequest) (*backend.Result, error)
}

// Store is the remote data store. A nil Store means the account is not authenticated.
type Store interface {
	CalculateRates(ctx context.Context) (*backend.ThermalRates, error)
	SavePreferences(ctx context.Context, r *backend.SavePreferencesRequest, timeout time.Duration) (*backend.SavePreferencesResponse, error)
}

type SnapshotStore interface {
	Put(key string, v interface{}) error
	Get(key string, v interface{}) (bool, error)
}

type Options struct {
	Optimizer        Optimizer
	Store            Store
	Registry         *state.Registry
	ThermostatEntity string
	Weather          weather.Provider
	Snapshots        SnapshotStore
	Alarms           *alarm.ActiveAlarms
	DebounceWindow   time.Duration
}

// Update is sent to subscribers every time the result is replaced.
type Update struct {
	Result   *backend.Result
	Date     string
	Setpoint *float64
}

type Coordinator struct {
	optimizer        Optimizer
	store            Store
	registry         *state.Registry
	thermostatEntity string
	weather          weather.Provider
	snapshots        SnapshotStore
	alarms           *alarm.ActiveAlarms
	now              func() time.Time

	updateGate   *debounce.Gate
	optimizeGate *debounce.Gate

	mutex       sync.Mutex
	prefs       config.Preferences
	custom      *envelope.Envelope
	rates       Rates
	result      *backend.Result
	resultDate  string
	phase       Phase
	lastOutcome string
	lastError   string
	listeners   []func(Update)
}

func New(prefs config.Preferences, opts Options) *Coordinator {
	window := opts.DebounceWindow
	if window == 0 {
		window = debounce.DefaultWindow
	}
	if opts.Registry == nil {
		opts.Registry = state.NewRegistry()
	}
	return &Coordinator{
		optimizer:        opts.Optimizer,
		store:            opts.Store,
		registry:         opts.Registry,
		thermostatEntity: opts.ThermostatEntity,
		weather:          opts.Weather,
		snapshots:        opts.Snapshots,
		alarms:           opts.Alarms,
		now:              time.Now,
		updateGate:       debounce.New(window),
		optimizeGate:     debounce.New(window),
		prefs:            prefs,
		phase:            PhaseIdle,
	}
}

// MidnightJob refreshes unconditionally at 00:00:00 local time.
func (c *Coordinator) MidnightJob() cron.Job {
	return cron.Job{
		Name: "midnight-optimization",
		Spec: cron.Daily(0, 0, 0),
		Run: func(ctx context.Context) {
			logrus.Info("running scheduled midnight optimization")
			// failures are logged by Refresh
			_ = c.Refresh(ctx)
		},
	}
}

// Subscribe registers fn to be called after every result change. fn runs on
// the goroutine that committed the result.
func (c *Coordinator) Subscribe(fn func(Update)) {
	c.mutex.Lock()
	c.listeners = append(c.listeners, fn)
	c.mutex.Unlock()
}

// Restore loads a previously saved result and rates. A missing snapshot is not an error.
func (c *Coordinator) Restore() error {
	if c.snapshots == nil {
		return nil
	}
	var rates Rates
	found, err := c.snapshots.Get(storage.KeyRates, &rates)
	if err != nil {
		return fmt.Errorf("error restoring rates: %w", err)
	}
	if found {
		c.mutex.Lock()
		c.rates = rates
		c.mutex.Unlock()
	}

	var saved savedResult
	found, err = c.snapshots.Get(storage.KeyResult, &saved)
	if err != nil {
		return fmt.Errorf("error restoring result: %w", err)
	}
	if found && saved.Result != nil {
		c.mutex.Lock()
		c.result = saved.Result
		c.resultDate = saved.Date
		c.mutex.Unlock()
		logrus.WithField("date", saved.Date).Info("restored optimization result")
	}
	return nil
}

type savedResult struct {
	Date   string          `json:"date"`
	Result *backend.Result `json:"result"`
}

func (c *Coordinator) setPhase(p Phase) {
	c.mutex.Lock()
	c.phase = p
	c.mutex.Unlock()
}

// Refresh fetches rates, builds the envelope and asks the optimizer for a new
// schedule. On failure the previous result is kept and an error wrapping
// ErrRefreshFailed is returned. The failure is logged here so callers only
// need to handle the error.
func (c *Coordinator) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.OptimizationDuration.Observe(time.Since(start).Seconds())
	}()

	if c.thermostatEntity != "" {
		if e := c.registry.Get(c.thermostatEntity); e != nil {
			logrus.WithFields(logrus.Fields{"entity": e.ID, "state": e.State}).Debug("thermostat state before optimization")
		} else {
			logrus.WithField("entity", c.thermostatEntity).Debug("thermostat state not known yet")
		}
	}

	c.setPhase(PhaseFetchingRates)
	c.fetchRates(ctx)

	c.mutex.Lock()
	c.phase = PhaseBuildingEnvelope
	prefs := c.prefs
	env := c.envelope()
	rates := c.rates.clone()
	c.phase = PhaseCallingOptimizer
	c.mutex.Unlock()

	req := &backend.OptimizeRequest{
		Preferences:         prefs,
		TemperatureSchedule: env,
		HeatUpRate:          rates.HeatUp(),
		CoolDownRate:        rates.CoolDown(),
		Mode:                prefs.Mode,
		NaturalRate:         rates.NaturalRate,
	}
	res, err := c.optimizer.GenerateSchedule(ctx, req)
	metrics.Optimizations.WithLabelValues(metrics.Outcome(err)).Inc()
	c.alarms.Set(alarm.Optimization, err)
	if err != nil {
		c.mutex.Lock()
		c.phase = PhaseIdle
		c.lastOutcome = string(PhaseFailed)
		c.lastError = err.Error()
		c.mutex.Unlock()
		logrus.WithFields(logrus.Fields{
			"endpoint": backend.EndpointGenerate,
			"mode":     prefs.Mode,
		}).Errorf("optimization failed: %s", err)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	c.commit(res)
	logrus.WithFields(logrus.Fields{
		"costSavings": valueOrZero(res.Metric("costSavings")),
		"co2Avoided":  valueOrZero(res.Metric("co2Avoided")),
		"mode":        prefs.Mode,
	}).Info("optimization complete")
	return nil
}

// envelope must be called with the mutex held.
func (c *Coordinator) envelope() *envelope.Envelope {
	if c.custom != nil {
		return c.custom.Clone()
	}
	return envelope.Build(c.prefs)
}

func (c *Coordinator) fetchRates(ctx context.Context) {
	if c.store == nil {
		return
	}
	learned, err := c.store.CalculateRates(ctx)
	metrics.Uploads.WithLabelValues(backend.EndpointCalculateRates, metrics.Outcome(err)).Inc()
	if err != nil {
		logrus.WithField("endpoint", backend.EndpointCalculateRates).Warnf("could not fetch thermal rates: %s", err)
		return
	}
	if learned == nil {
		return
	}
	c.AdoptRates(learned)
}

// AdoptRates replaces all learned rates, eg with those returned by the daily summary.
func (c *Coordinator) AdoptRates(learned *backend.ThermalRates) {
	if learned.Empty() {
		return
	}
	rates := Rates{ThermalRates: *learned, FetchedAt: c.now()}
	c.mutex.Lock()
	c.rates = rates.clone()
	c.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"heating_rate": rates.HeatUp(),
		"cooling_rate": rates.CoolDown(),
		"natural_rate": rates.NaturalRate != nil,
	}).Info("thermal rates updated")
	c.save(storage.KeyRates, rates)
}

// commit replaces the result and notifies subscribers.
func (c *Coordinator) commit(res *backend.Result) {
	now := c.now()
	c.mutex.Lock()
	c.result = res
	c.resultDate = now.Format(dateFormat)
	c.phase = PhaseIdle
	c.lastOutcome = string(PhaseSucceeded)
	c.lastError = ""
	listeners := append([]func(Update){}, c.listeners...)
	u := Update{Result: res, Date: c.resultDate, Setpoint: setpoint(res, now)}
	c.mutex.Unlock()

	if u.Setpoint != nil {
		metrics.CurrentSetpoint.Set(*u.Setpoint)
	}
	c.save(storage.KeyResult, savedResult{Date: u.Date, Result: res})
	for _, fn := range listeners {
		fn(u)
	}
}

func (c *Coordinator) save(key string, v interface{}) {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.Put(key, v); err != nil {
		logrus.WithField("key", key).Warnf("could not save snapshot: %s", err)
	}
}

// UpdateSchedule merges patch into the preferences, refreshes and optionally
// persists to the remote store. Calls within the debounce window are dropped.
// Persistence is attempted even when the refresh fails; the refresh error is
// returned afterwards.
func (c *Coordinator) UpdateSchedule(ctx context.Context, patch Patch, persist bool) error {
	if !c.updateGate.Admit(c.now()) {
		metrics.Debounced.WithLabelValues("update_schedule").Inc()
		logrus.Debug("update schedule debounced")
		return nil
	}

	u, err := patch.parse()
	if err != nil {
		return err
	}

	c.mutex.Lock()
	u.apply(&c.prefs)
	c.custom = u.schedule
	prefs := c.prefs
	c.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"timeAway":        prefs.TimeAway,
		"timeHome":        prefs.TimeHome,
		"homeTemperature": prefs.HomeTemperature,
		"custom":          u.schedule != nil,
	}).Info("schedule updated")

	refreshErr := c.Refresh(ctx)

	if persist && c.store != nil {
		if _, err := c.savePreferences(ctx, false, true, backend.StoreTimeout); err != nil {
			logrus.WithField("endpoint", backend.EndpointSavePreferences).Errorf("error saving preferences: %s", err)
		}
	}
	return refreshErr
}

// OptimizeAndSave persists the preferences and, when immediate, lets the
// store run the optimizer and adopts the echoed result.
func (c *Coordinator) OptimizeAndSave(ctx context.Context, immediate bool) error {
	if c.store == nil {
		logrus.Error("cannot optimize and save: user not authenticated")
		return nil
	}
	if !c.optimizeGate.Admit(c.now()) {
		metrics.Debounced.WithLabelValues("optimize_and_save").Inc()
		logrus.Debug("optimize and save debounced")
		return nil
	}

	timeout := backend.StoreTimeout
	if immediate {
		timeout = backend.ImmediateOptimizeTimeout
	}
	resp, err := c.savePreferences(ctx, immediate, false, timeout)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("save-preferences returned status: %s", resp.Status)
	}
	if !immediate {
		logrus.Info("preferences saved for nightly optimization")
	}
	return nil
}

// ForceOptimization refreshes without debouncing.
func (c *Coordinator) ForceOptimization(ctx context.Context) error {
	return c.Refresh(ctx)
}

// SetMode switches optimization mode, refreshes and persists unless mode is off.
func (c *Coordinator) SetMode(ctx context.Context, mode types.Mode) error {
	mode, err := types.ParseMode(string(mode))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPatch, err)
	}
	c.mutex.Lock()
	c.prefs.Mode = mode
	c.mutex.Unlock()
	logrus.WithField("mode", mode).Info("optimization mode changed")

	refreshErr := c.Refresh(ctx)
	if mode != types.ModeOff && c.store != nil {
		if _, err := c.savePreferences(ctx, false, true, backend.StoreTimeout); err != nil {
			logrus.WithField("endpoint", backend.EndpointSavePreferences).Errorf("error saving preferences: %s", err)
		}
	}
	return refreshErr
}

// savePreferences posts the current preferences. With attachResult the current
// result is sent along so the store does not recompute it. An echoed result
// replaces the current one when the store reports success and either the
// store optimized immediately or the result was attached.
func (c *Coordinator) savePreferences(ctx context.Context, immediate, attachResult bool, timeout time.Duration) (*backend.SavePreferencesResponse, error) {
	if c.store == nil {
		return nil, ErrNotAuthenticated
	}

	c.mutex.Lock()
	prefs := c.prefs
	env := c.envelope()
	rates := c.rates.clone()
	result := c.result
	c.mutex.Unlock()

	var forecast *weather.Forecast
	if c.weather != nil {
		var err error
		if forecast, err = c.weather.Forecast(ctx); err != nil {
			logrus.Warnf("could not fetch weather forecast: %s", err)
		}
	}

	req := &backend.SavePreferencesRequest{
		UserID: prefs.AnonymousID,
		Preferences: backend.StorePreferences{
			HomeSize:          prefs.HomeSize,
			BaseTemperature:   prefs.HomeTemperature,
			TargetTemperature: prefs.HomeTemperature,
			Location:          prefs.Location,
			SavingsLevel:      prefs.SavingsLevel,
			TimeAway:          prefs.TimeAway,
			TimeHome:          prefs.TimeHome,
			HighTemperatures:  env.HighTemperatures,
			LowTemperatures:   env.LowTemperatures,
			HeatingRate:       rates.HeatingRate,
			CoolingRate:       rates.CoolingRate,
			NaturalRate:       rates.NaturalRate,
			OptimizationMode:  prefs.Mode,
		},
		WeatherForecast:       forecast,
		ImmediateOptimization: immediate,
	}
	if attachResult {
		req.OptimizationResults = result
	}

	resp, err := c.store.SavePreferences(ctx, req, timeout)
	metrics.Uploads.WithLabelValues(backend.EndpointSavePreferences, metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		logrus.WithField("endpoint", backend.EndpointSavePreferences).Warnf("save preferences returned status: %s", resp.Status)
		return resp, nil
	}

	if !immediate && !attachResult {
		return resp, nil
	}
	echo, err := resp.OptimizationResult()
	if err != nil {
		logrus.WithField("endpoint", backend.EndpointSavePreferences).Warnf("ignoring echoed optimization: %s", err)
		return resp, nil
	}
	if echo != nil {
		c.commit(echo)
		logrus.WithField("costSavings", valueOrZero(echo.Metric("costSavings"))).Info("adopted optimization from store")
	} else {
		logrus.Info("preferences saved")
	}
	return resp, nil
}

func valueOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
