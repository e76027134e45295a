package weather

import (
	"context"

	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

const ForecastHours = 24

type Forecast struct {
	Condition   string                   `json:"condition"`
	Temperature *float64                 `json:"temperature"`
	Humidity    *float64                 `json:"humidity"`
	Forecast    []map[string]interface{} `json:"forecast"`
}

type Provider interface {
	// Forecast returns nil without error when no weather source is configured.
	Forecast(ctx context.Context) (*Forecast, error)
}

// EntityProvider reads a weather entity from the registry. The hourly forecast
// is expected in its "forecast" attribute.
type EntityProvider struct {
	registry *state.Registry
	entityID string
}

func NewEntityProvider(registry *state.Registry, entityID string) *EntityProvider {
	return &EntityProvider{registry: registry, entityID: entityID}
}

func (p *EntityProvider) Forecast(ctx context.Context) (*Forecast, error) {
	if p.entityID == "" {
		return nil, nil
	}
	e := p.registry.Get(p.entityID)
	if e == nil {
		logrus.WithField("entity", p.entityID).Debug("weather: no state yet")
		return nil, nil
	}

	f := &Forecast{
		Condition: e.State,
		Forecast:  []map[string]interface{}{},
	}
	f.Temperature, _ = e.FloatAttr("temperature")
	f.Humidity, _ = e.FloatAttr("humidity")

	raw, ok := e.Attributes["forecast"].([]interface{})
	if !ok {
		if e.HasAttr("forecast") {
			logrus.WithField("entity", p.entityID).Warn("weather: forecast attribute is not a list")
		}
		return f, nil
	}
	for _, entry := range raw {
		if len(f.Forecast) == ForecastHours {
			break
		}
		if m, ok := entry.(map[string]interface{}); ok {
			f.Forecast = append(f.Forecast, m)
		}
	}
	return f, nil
}
