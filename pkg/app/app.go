package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/api"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/config"
	"github.com/nergy-se/curvecontrol/pkg/backend"
	"github.com/nergy-se/curvecontrol/pkg/collector"
	"github.com/nergy-se/curvecontrol/pkg/coordinator"
	"github.com/nergy-se/curvecontrol/pkg/cron"
	"github.com/nergy-se/curvecontrol/pkg/mbus"
	"github.com/nergy-se/curvecontrol/pkg/modbusclient"
	"github.com/nergy-se/curvecontrol/pkg/mqtt"
	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/nergy-se/curvecontrol/pkg/storage"
	"github.com/nergy-se/curvecontrol/pkg/thermostat"
	"github.com/nergy-se/curvecontrol/pkg/weather"
	"github.com/sirupsen/logrus"
)

const shutdownFlushTimeout = 30 * time.Second

type App struct {
	wg     *sync.WaitGroup
	config *config.CliConfig

	registry    *state.Registry
	alarms      *alarm.ActiveAlarms
	bus         mqtt.Bus
	coordinator *coordinator.Coordinator
	collector   *collector.Collector
	thermostat  thermostat.Thermostat
	jobs        []cron.Job
	closers     []func() error
}

func New(config *config.CliConfig) *App {
	return &App{
		wg:       &sync.WaitGroup{},
		config:   config,
		registry: state.NewRegistry(),
		alarms:   &alarm.ActiveAlarms{},
	}
}

func (a *App) Start(ctx context.Context) error {
	prefs, err := a.config.InitialPreferences()
	if err != nil {
		return fmt.Errorf("invalid initial preferences: %w", err)
	}

	err = a.setupBus(ctx)
	if err != nil {
		return err
	}

	var snapshots coordinator.SnapshotStore
	if a.config.StateFile != "" {
		s, err := storage.Open(a.config.StateFile)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		snapshots = s
	}

	var store *backend.Store
	opts := coordinator.Options{
		Optimizer:        backend.NewOptimizer(a.config.BackendURL, nil),
		Registry:         a.registry,
		ThermostatEntity: a.config.ThermostatEntity,
		Weather:          weather.NewEntityProvider(a.registry, a.config.WeatherEntity),
		Snapshots:        snapshots,
		Alarms:           a.alarms,
	}
	if a.config.Authenticated() {
		store = backend.NewStore(a.config.StoreURL, a.config.StoreAPIKey, a.config.UserID)
		opts.Store = store
	} else {
		logrus.Warn("user id, auth token or store api key missing, remote store disabled")
	}

	a.coordinator = coordinator.New(prefs, opts)
	if err := a.coordinator.Restore(); err != nil {
		logrus.Warn(err)
	}
	a.jobs = append(a.jobs, a.coordinator.MidnightJob())

	if a.bus != nil {
		publisher := mqtt.NewPublisher(a.bus, a.config.MQTTPrefix)
		a.coordinator.Subscribe(publisher.PublishUpdate)
		a.jobs = append(a.jobs, a.setpointJob(publisher))
	} else {
		a.jobs = append(a.jobs, a.setpointJob(nil))
	}
	a.coordinator.Subscribe(func(u coordinator.Update) {
		a.applySetpoint(u.Setpoint)
	})

	if store != nil && a.config.ThermostatEntity != "" {
		a.collector = collector.New(a.registry, store, a.coordinator, opts.Weather, a.alarms, collector.Entities{
			Temperature: a.config.ThermostatEntity,
			Hvac:        a.config.ThermostatEntity,
			Thermostat:  a.config.ThermostatEntity,
			Humidity:    a.config.HumidityEntity,
		}, a.config.UserID)
		a.jobs = append(a.jobs, a.collector.Jobs()...)
	}

	pollers := a.setupPollers()
	a.jobs = append(a.jobs, pollers...)

	if a.config.HTTPListen != "" {
		var actions api.ActionLogger
		if a.collector != nil {
			actions = a.collector
		}
		api.New(a.coordinator, actions, a.alarms, a.config.APISecret).Start(ctx, a.wg, a.config.HTTPListen)
	}

	for _, job := range a.jobs {
		cron.Start(ctx, a.wg, job)
	}

	a.wg.Add(2)
	go a.startup(ctx, pollers)
	go a.shutdown(ctx)
	return nil
}

func (a *App) Wait() {
	a.wg.Wait()
}

func (a *App) setupBus(ctx context.Context) error {
	switch {
	case a.config.MQTTBroker != "":
		c, err := mqtt.Connect(mqtt.ClientConfig{
			Broker:   a.config.MQTTBroker,
			Username: a.config.MQTTUsername,
			Password: a.config.MQTTPassword,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			c.Close()
			return nil
		})
		a.bus = c
	case a.config.MQTTListen != "":
		e, err := mqtt.StartEmbedded(ctx, a.wg, a.config.MQTTListen)
		if err != nil {
			return err
		}
		a.bus = e
	default:
		logrus.Info("mqtt disabled, entities only come from local pollers")
		return nil
	}
	return mqtt.ListenEntities(a.bus, a.config.MQTTPrefix, a.registry)
}

func (a *App) setupPollers() []cron.Job {
	var jobs []cron.Job
	switch {
	case a.config.Dummy:
		a.thermostat = thermostat.NewDummy(a.config.ThermostatEntity, a.config.TargetTemperature)
	case a.config.ModbusAddress != "":
		client := modbusclient.Dial(a.config.ModbusAddress, byte(a.config.ModbusSlaveID))
		a.closers = append(a.closers, client.Close)
		a.thermostat = thermostat.NewModbus(client, a.config.ThermostatEntity)
	}
	if a.thermostat != nil {
		jobs = append(jobs, thermostat.PollJob(a.thermostat, a.alarms, a.storeEntity))
	}

	if a.config.MbusDevice != "" {
		m := mbus.New(a.config.MbusDevice)
		a.closers = append(a.closers, m.Close)
		jobs = append(jobs, m.PollJob(a.config.MbusModel, a.config.MbusPrimaryID, a.config.MbusEntity, a.alarms, a.storeEntity))
	}
	return jobs
}

// startup polls the devices once, takes the first sample, waits for entity
// states to arrive and runs the first optimization.
func (a *App) startup(ctx context.Context, pollers []cron.Job) {
	defer a.wg.Done()
	for _, job := range pollers {
		job.Run(ctx)
	}
	if a.collector != nil {
		a.collector.Sample()
	}

	delay := a.config.StartupDelay()
	logrus.Debugf("running first optimization in %s", delay)
	if !sleepContext(ctx, delay) {
		return
	}

	// failures are logged by Refresh
	_ = a.coordinator.Refresh(ctx)
}

// shutdown uploads what is left in the buffer and releases devices and files.
func (a *App) shutdown(ctx context.Context) {
	defer a.wg.Done()
	<-ctx.Done()

	if a.collector != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		if err := a.collector.Flush(flushCtx); err != nil {
			logrus.Errorf("could not upload pending readings on shutdown: %s", err)
		}
		cancel()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logrus.Errorf("error closing: %s", err)
		}
	}
}
