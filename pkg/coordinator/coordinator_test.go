package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/backend"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/envelope"
	"github.com/nergy-se/curvecontrol/pkg/storage"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointer[K any](val K) *K {
	return &val
}

func resultJSON(base float64) string {
	best := make([]float64, 48)
	for i := range best {
		best[i] = base + float64(i)/10
	}
	b, _ := json.Marshal(map[string]interface{}{
		"HourlyTemperature": []interface{}{[]float64{0}, []float64{80, 81, 82}, []float64{60, 61, 62}},
		"bestTempActual":    best,
		"costSavings":       4.2,
	})
	return string(b)
}

func mustResult(t *testing.T, base float64) *backend.Result {
	t.Helper()
	r, err := backend.ParseResult([]byte(resultJSON(base)))
	require.NoError(t, err)
	return r
}

type fakeOptimizer struct {
	requests []*backend.OptimizeRequest
	err      error
	base     float64
	t        *testing.T
	sync.Mutex
}

func (f *fakeOptimizer) GenerateSchedule(ctx context.Context, r *backend.OptimizeRequest) (*backend.Result, error) {
	f.Lock()
	defer f.Unlock()
	f.requests = append(f.requests, r)
	if f.err != nil {
		return nil, f.err
	}
	return mustResult(f.t, f.base), nil
}

func (f *fakeOptimizer) calls() int {
	f.Lock()
	defer f.Unlock()
	return len(f.requests)
}

type fakeStore struct {
	rates    *backend.ThermalRates
	ratesErr error
	saves    []*backend.SavePreferencesRequest
	timeouts []time.Duration
	response *backend.SavePreferencesResponse
	saveErr  error
	sync.Mutex
}

func (f *fakeStore) CalculateRates(ctx context.Context) (*backend.ThermalRates, error) {
	return f.rates, f.ratesErr
}

func (f *fakeStore) SavePreferences(ctx context.Context, r *backend.SavePreferencesRequest, timeout time.Duration) (*backend.SavePreferencesResponse, error) {
	f.Lock()
	defer f.Unlock()
	f.saves = append(f.saves, r)
	f.timeouts = append(f.timeouts, timeout)
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if f.response != nil {
		return f.response, nil
	}
	return &backend.SavePreferencesResponse{Status: "success"}, nil
}

type memSnapshots struct {
	data map[string][]byte
}

func (m *memSnapshots) Put(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

func (m *memSnapshots) Get(key string, v interface{}) (bool, error) {
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

var testPrefs = config.Preferences{
	AnonymousID:     "user1",
	HomeSize:        2000,
	HomeTemperature: 72,
	Location:        1,
	TimeAway:        "08:00",
	TimeHome:        "17:00",
	SavingsLevel:    2,
	Mode:            types.ModeCool,
}

type testClock struct {
	t time.Time
	sync.Mutex
}

func (c *testClock) now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.Lock()
	c.t = c.t.Add(d)
	c.Unlock()
}

func newTestCoordinator(t *testing.T, opt Optimizer, store Store) (*Coordinator, *testClock) {
	t.Helper()
	c := New(testPrefs, Options{
		Optimizer:        opt,
		Store:            store,
		ThermostatEntity: "climate.thermostat",
		Alarms:           &alarm.ActiveAlarms{},
	})
	clock := &testClock{t: time.Date(2024, 6, 2, 10, 0, 0, 0, time.Local)}
	c.now = clock.now
	return c, clock
}

func TestRefresh(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	c, clock := newTestCoordinator(t, opt, nil)

	var updates []Update
	c.Subscribe(func(u Update) { updates = append(updates, u) })

	require.NoError(t, c.Refresh(context.Background()))

	res, date := c.Result()
	require.NotNil(t, res)
	assert.Equal(t, "2024-06-02", date)
	assert.Len(t, res.HourlyTemperature, 3)
	assert.Len(t, res.BestTempActual, 48)

	sp := c.CurrentSetpoint(clock.now())
	require.NotNil(t, sp)
	assert.Equal(t, res.BestTempActual[20], *sp)
	assert.InDelta(t, 72.0, *sp, 0.0001)

	require.Len(t, updates, 1)
	assert.InDelta(t, 72.0, *updates[0].Setpoint, 0.0001)

	req := opt.requests[0]
	assert.Equal(t, DefaultHeatingRate, req.HeatUpRate)
	assert.Equal(t, DefaultCoolingRate, req.CoolDownRate)
	assert.Nil(t, req.NaturalRate)
	assert.Equal(t, types.ModeCool, req.Mode)
	assert.Equal(t, envelope.Build(testPrefs), req.TemperatureSchedule)

	s := c.Status()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Equal(t, string(PhaseSucceeded), s.LastOutcome)
	assert.Equal(t, 4.2, *s.CostSavings)
}

func TestRefreshOptimizerErrorKeepsResult(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(resultJSON(70)))
	}))
	defer srv.Close()

	c, clock := newTestCoordinator(t, backend.NewOptimizer(srv.URL, nil), nil)
	require.NoError(t, c.Refresh(context.Background()))
	before := c.CurrentSetpoint(clock.now())
	require.NotNil(t, before)

	fail.Store(true)
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	var statusErr *backend.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.Equal(t, *before, *c.CurrentSetpoint(clock.now()))
	assert.Equal(t, string(PhaseFailed), c.Status().LastOutcome)
	assert.Contains(t, c.alarms.List(), alarm.Optimization)
}

func TestRefreshUsesLearnedRates(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	store := &fakeStore{rates: &backend.ThermalRates{HeatingRate: pointer(1.6), NaturalRate: pointer(0.3)}}
	c, _ := newTestCoordinator(t, opt, store)

	require.NoError(t, c.Refresh(context.Background()))
	req := opt.requests[0]
	assert.Equal(t, 1.6, req.HeatUpRate)
	assert.Equal(t, DefaultCoolingRate, req.CoolDownRate)
	assert.Equal(t, 0.3, *req.NaturalRate)
	assert.False(t, c.Rates().FetchedAt.IsZero())

	store.rates = nil
	store.ratesErr = fmt.Errorf("timeout")
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 1.6, opt.requests[1].HeatUpRate)
}

func TestAdoptRatesReplacesWholesale(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeOptimizer{t: t}, nil)
	c.AdoptRates(&backend.ThermalRates{HeatingRate: pointer(1.6), CoolingRate: pointer(-2.0)})
	c.AdoptRates(&backend.ThermalRates{CoolingRate: pointer(-1.1)})
	r := c.Rates()
	assert.Nil(t, r.HeatingRate)
	assert.Equal(t, DefaultHeatingRate, r.HeatUp())
	assert.Equal(t, -1.1, r.CoolDown())

	c.AdoptRates(&backend.ThermalRates{})
	assert.Equal(t, -1.1, c.Rates().CoolDown())
}

func TestUpdateScheduleDebounce(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	c, clock := newTestCoordinator(t, opt, nil)

	require.NoError(t, c.UpdateSchedule(context.Background(), Patch{"homeTemperature": json.RawMessage(`70`)}, false))
	clock.advance(time.Second)
	require.NoError(t, c.UpdateSchedule(context.Background(), Patch{"homeTemperature": json.RawMessage(`68`)}, false))
	assert.Equal(t, 1, opt.calls())
	assert.Equal(t, 70.0, c.Preferences().HomeTemperature)

	clock.advance(1100 * time.Millisecond)
	require.NoError(t, c.UpdateSchedule(context.Background(), Patch{"homeTemperature": json.RawMessage(`68`)}, false))
	assert.Equal(t, 2, opt.calls())
	assert.Equal(t, 68.0, c.Preferences().HomeTemperature)
}

func TestUpdateScheduleInvalid(t *testing.T) {
	var tests = []struct {
		name  string
		patch Patch
	}{
		{name: "bad away time", patch: Patch{"timeAway": json.RawMessage(`"25:99"`), "homeSize": json.RawMessage(`1500`)}},
		{name: "bad home time", patch: Patch{"timeHome": json.RawMessage(`"noon"`)}},
		{name: "wrong type", patch: Patch{"homeSize": json.RawMessage(`"big"`)}},
		{name: "bad mode", patch: Patch{"optimizationMode": json.RawMessage(`"auto"`)}},
		{name: "short envelope", patch: Patch{"temperatureSchedule": json.RawMessage(`{"highTemperatures":[80],"lowTemperatures":[60]}`)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			opt := &fakeOptimizer{t: t, base: 70}
			c, _ := newTestCoordinator(t, opt, nil)
			err := c.UpdateSchedule(context.Background(), tt.patch, false)
			assert.True(t, errors.Is(err, ErrInvalidPatch))
			assert.Equal(t, testPrefs, c.Preferences())
			assert.Equal(t, 0, opt.calls())
		})
	}
}

func TestUpdateScheduleMergesAndTruncates(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	c, _ := newTestCoordinator(t, opt, nil)

	patch := Patch{
		"timeAway":         json.RawMessage(`"09:30:00"`),
		"savingsLevel":     json.RawMessage(`3`),
		"optimizationMode": json.RawMessage(`"HEAT"`),
		"unknown":          json.RawMessage(`true`),
	}
	require.NoError(t, c.UpdateSchedule(context.Background(), patch, false))
	p := c.Preferences()
	assert.Equal(t, "09:30", p.TimeAway)
	assert.Equal(t, "17:00", p.TimeHome)
	assert.Equal(t, 3, p.SavingsLevel)
	assert.Equal(t, types.ModeHeat, p.Mode)
	assert.Equal(t, types.ModeHeat, opt.requests[0].Mode)
}

func TestUpdateScheduleCustomEnvelope(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	c, clock := newTestCoordinator(t, opt, nil)

	custom := envelope.Build(config.Preferences{HomeTemperature: 75, TimeAway: "00:00", TimeHome: "23:30", SavingsLevel: 1})
	b, err := json.Marshal(map[string]interface{}{
		"highTemperatures": custom.HighTemperatures,
		"lowTemperatures":  custom.LowTemperatures,
	})
	require.NoError(t, err)

	require.NoError(t, c.UpdateSchedule(context.Background(), Patch{"temperatureSchedule": b}, false))
	assert.Equal(t, custom, opt.requests[0].TemperatureSchedule)
	assert.True(t, c.Status().CustomSchedule)

	clock.advance(3 * time.Second)
	require.NoError(t, c.UpdateSchedule(context.Background(), Patch{}, false))
	assert.Equal(t, envelope.Build(testPrefs), opt.requests[1].TemperatureSchedule)
	assert.False(t, c.Status().CustomSchedule)
}

func TestUpdateSchedulePersists(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	store := &fakeStore{response: &backend.SavePreferencesResponse{Status: "success", Optimization: json.RawMessage(resultJSON(60))}}
	c, clock := newTestCoordinator(t, opt, store)

	require.NoError(t, c.UpdateSchedule(context.Background(), Patch{"homeTemperature": json.RawMessage(`71`)}, true))
	require.Len(t, store.saves, 1)
	req := store.saves[0]
	assert.Equal(t, "user1", req.UserID)
	assert.False(t, req.ImmediateOptimization)
	assert.NotNil(t, req.OptimizationResults)
	assert.Equal(t, 71.0, req.Preferences.BaseTemperature)
	assert.Equal(t, 71.0, req.Preferences.TargetTemperature)
	assert.Len(t, req.Preferences.HighTemperatures, 48)
	assert.Equal(t, types.ModeCool, req.Preferences.OptimizationMode)
	assert.Equal(t, backend.StoreTimeout, store.timeouts[0])

	// echoed result replaced the optimizer result
	assert.InDelta(t, 62.0, *c.CurrentSetpoint(clock.now()), 0.0001)
}

func TestUpdateSchedulePersistsAfterFailedRefresh(t *testing.T) {
	opt := &fakeOptimizer{t: t, err: fmt.Errorf("optimizer down")}
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, opt, store)

	err := c.UpdateSchedule(context.Background(), Patch{"location": json.RawMessage(`3`)}, true)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	require.Len(t, store.saves, 1)
	assert.Equal(t, 3, store.saves[0].Preferences.Location)
	assert.Nil(t, store.saves[0].OptimizationResults)
}

func TestUpdateScheduleSwallowsPersistError(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	store := &fakeStore{saveErr: fmt.Errorf("store down")}
	c, _ := newTestCoordinator(t, opt, store)

	assert.NoError(t, c.UpdateSchedule(context.Background(), Patch{}, true))
	assert.Len(t, store.saves, 1)
}

func TestOptimizeAndSave(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	store := &fakeStore{response: &backend.SavePreferencesResponse{Status: "success", Optimization: json.RawMessage(resultJSON(65))}}
	c, clock := newTestCoordinator(t, opt, store)

	var updates int
	c.Subscribe(func(Update) { updates++ })

	require.NoError(t, c.OptimizeAndSave(context.Background(), true))
	require.Len(t, store.saves, 1)
	assert.True(t, store.saves[0].ImmediateOptimization)
	assert.Nil(t, store.saves[0].OptimizationResults)
	assert.Equal(t, backend.ImmediateOptimizeTimeout, store.timeouts[0])
	assert.InDelta(t, 67.0, *c.CurrentSetpoint(clock.now()), 0.0001)
	assert.Equal(t, 1, updates)
	assert.Equal(t, 0, opt.calls())

	// debounced
	require.NoError(t, c.OptimizeAndSave(context.Background(), true))
	assert.Len(t, store.saves, 1)

	clock.advance(2 * time.Second)
	require.NoError(t, c.OptimizeAndSave(context.Background(), false))
	require.Len(t, store.saves, 2)
	assert.False(t, store.saves[1].ImmediateOptimization)
	assert.Equal(t, backend.StoreTimeout, store.timeouts[1])
	assert.Equal(t, 1, updates)
}

func TestOptimizeAndSaveErrors(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeOptimizer{t: t}, nil)
	assert.NoError(t, c.OptimizeAndSave(context.Background(), true))

	store := &fakeStore{saveErr: fmt.Errorf("store down")}
	c, clock := newTestCoordinator(t, &fakeOptimizer{t: t}, store)
	assert.Error(t, c.OptimizeAndSave(context.Background(), true))

	clock.advance(2 * time.Second)
	store.saveErr = nil
	store.response = &backend.SavePreferencesResponse{Status: "error"}
	assert.Error(t, c.OptimizeAndSave(context.Background(), true))
	res, _ := c.Result()
	assert.Nil(t, res)
}

func TestSetMode(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, opt, store)

	require.NoError(t, c.SetMode(context.Background(), types.ModeOff))
	assert.Equal(t, types.ModeOff, c.Mode())
	assert.Equal(t, types.ModeOff, opt.requests[0].Mode)
	assert.Empty(t, store.saves)

	require.NoError(t, c.SetMode(context.Background(), types.ModeHeat))
	assert.Len(t, store.saves, 1)

	err := c.SetMode(context.Background(), types.Mode("auto"))
	assert.True(t, errors.Is(err, ErrInvalidPatch))
	assert.Equal(t, types.ModeHeat, c.Mode())
}

func TestScheduleBounds(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeOptimizer{t: t, base: 70}, nil)
	_, _, ok := c.ScheduleBounds()
	assert.False(t, ok)

	require.NoError(t, c.ForceOptimization(context.Background()))
	high, low, ok := c.ScheduleBounds()
	assert.True(t, ok)
	assert.Equal(t, []float64{80, 81, 82}, high)
	assert.Equal(t, []float64{60, 61, 62}, low)
}

func TestSetpointOutOfRange(t *testing.T) {
	res, err := backend.ParseResult([]byte(`{"HourlyTemperature":[],"bestTempActual":[70,71]}`))
	require.NoError(t, err)
	assert.Nil(t, setpoint(res, time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)))
	assert.Equal(t, 71.0, *setpoint(res, time.Date(2024, 1, 1, 0, 45, 0, 0, time.Local)))
	assert.Nil(t, setpoint(nil, time.Now()))
}

func TestRestore(t *testing.T) {
	snaps := &memSnapshots{data: map[string][]byte{}}
	opt := &fakeOptimizer{t: t, base: 70}
	c := New(testPrefs, Options{Optimizer: opt, Snapshots: snaps})
	c.AdoptRates(&backend.ThermalRates{HeatingRate: pointer(1.4)})
	require.NoError(t, c.Refresh(context.Background()))
	assert.Contains(t, snaps.data, storage.KeyResult)
	assert.Contains(t, snaps.data, storage.KeyRates)

	restored := New(testPrefs, Options{Optimizer: opt, Snapshots: snaps})
	require.NoError(t, restored.Restore())
	res, date := restored.Result()
	require.NotNil(t, res)
	assert.Equal(t, time.Now().Format("2006-01-02"), date)
	assert.Len(t, res.BestTempActual, 48)
	assert.Equal(t, 1.4, restored.Rates().HeatUp())
}

func TestConcurrentRefresh(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	c, _ := newTestCoordinator(t, opt, &fakeStore{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Refresh(context.Background()))
		}()
		go func() {
			defer wg.Done()
			c.Status()
			c.AdoptRates(&backend.ThermalRates{HeatingRate: pointer(1.3)})
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, opt.calls())
	assert.Equal(t, PhaseIdle, c.Status().Phase)
}

func TestMidnightJob(t *testing.T) {
	opt := &fakeOptimizer{t: t, base: 70}
	c, _ := newTestCoordinator(t, opt, nil)

	job := c.MidnightJob()
	assert.Equal(t, cron.Daily(0, 0, 0), job.Spec)
	next := job.Spec.Next(time.Date(2024, 6, 2, 23, 59, 59, 0, time.Local))
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.Local), next)

	job.Run(context.Background())
	job.Run(context.Background())
	assert.Equal(t, 2, opt.calls())
}

func TestRefreshFailureLoggedOnce(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer hook.Reset()

	opt := &fakeOptimizer{t: t, err: fmt.Errorf("optimizer down")}
	c, _ := newTestCoordinator(t, opt, nil)

	c.MidnightJob().Run(context.Background())

	errorsLogged := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 1, errorsLogged)
	assert.Equal(t, 1, opt.calls())
}
