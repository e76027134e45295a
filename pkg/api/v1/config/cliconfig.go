package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
)

type CliConfig struct {
	BackendURL  string `default:"https://ha-smart-temps-backend-b95c9357605a.herokuapp.com"`
	StoreURL    string `default:"https://wrbtjomwnovcnuelxioe.supabase.co"`
	StoreAPIKey string

	UserID    string
	AuthToken string
	TokenFile string

	// Initial preferences. Changed at runtime through the action API only.
	HomeSize          int     `default:"2000"`
	TargetTemperature float64 `default:"72"`
	Location          int     `default:"1"`
	TimeAway          string  `default:"08:00"`
	TimeHome          string  `default:"17:00"`
	SavingsLevel      int     `default:"1"`
	OptimizationMode  string  `default:"cool"`

	ThermostatEntity string `default:"climate.thermostat"`
	HumidityEntity   string
	WeatherEntity    string

	// MQTTBroker empty means run the embedded broker on MQTTListen.
	MQTTBroker   string
	MQTTListen   string `default:":1883"`
	MQTTPrefix   string `default:"curvecontrol"`
	MQTTUsername string
	MQTTPassword string

	ModbusAddress string
	ModbusSlaveID int `default:"1"`
	// ApplySetpoint writes the current setpoint to the local thermostat.
	ApplySetpoint bool

	MbusDevice    string
	MbusPrimaryID int    `default:"1"`
	MbusModel     string `default:"elvaco-CMa11"`
	MbusEntity    string `default:"sensor.room_climate"`

	Dummy bool

	HTTPListen string `default:":8080"`
	APISecret  string

	StateFile           string `default:"/var/lib/curvecontrol/state.db"`
	StartupDelaySeconds int    `default:"10"`

	LogLevel string `default:"info"`

	mutex sync.RWMutex
}

func (c *CliConfig) Token() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.AuthToken
}

func (c *CliConfig) SetToken(t string) {
	c.mutex.Lock()
	c.AuthToken = strings.TrimSpace(t)
	c.mutex.Unlock()
}

func (c *CliConfig) LoadToken() error {
	if c.TokenFile == "" {
		return nil
	}
	if _, err := os.Stat(c.TokenFile); err == nil {
		b, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil // dont load empty token
		}

		c.SetToken(string(b))
	}
	return nil
}

// Authenticated reports whether calls to the remote store are possible.
// The store rejects requests without an api key.
func (c *CliConfig) Authenticated() bool {
	return c.UserID != "" && c.Token() != "" && c.StoreAPIKey != ""
}

func (c *CliConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

// InitialPreferences returns the preferences configured at install time.
// Times are cut to HH:MM the same way updates are.
func (c *CliConfig) InitialPreferences() (Preferences, error) {
	mode, err := types.ParseMode(c.OptimizationMode)
	if err != nil {
		return Preferences{}, err
	}
	return Preferences{
		AnonymousID:     c.UserID,
		HomeSize:        c.HomeSize,
		HomeTemperature: c.TargetTemperature,
		Location:        c.Location,
		TimeAway:        TruncateClock(c.TimeAway),
		TimeHome:        TruncateClock(c.TimeHome),
		SavingsLevel:    c.SavingsLevel,
		Mode:            mode,
	}, nil
}
