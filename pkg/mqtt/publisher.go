package mqtt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/coordinator"
	"github.com/sirupsen/logrus"
)

type OptimizationMessage struct {
	Date           string    `json:"date"`
	Setpoint       *float64  `json:"setpoint"`
	BestTempActual []float64 `json:"bestTempActual"`
	HighBounds     []float64 `json:"highBounds,omitempty"`
	LowBounds      []float64 `json:"lowBounds,omitempty"`
	CostSavings    *float64  `json:"costSavings,omitempty"`
	PercentSavings *float64  `json:"percentSavings,omitempty"`
	CO2Avoided     *float64  `json:"co2Avoided,omitempty"`
	CarsEquivalent *float64  `json:"carsEquivalent,omitempty"`
	PublishedAt    time.Time `json:"publishedAt"`
}

// Publisher sends results retained so late subscribers get the latest value.
type Publisher struct {
	bus    Bus
	prefix string
}

func NewPublisher(bus Bus, prefix string) *Publisher {
	return &Publisher{bus: bus, prefix: prefix}
}

func (p *Publisher) OptimizationTopic() string {
	return p.prefix + "/optimization"
}

func (p *Publisher) SetpointTopic() string {
	return p.prefix + "/setpoint"
}

// PublishUpdate is meant to be registered with coordinator.Subscribe.
func (p *Publisher) PublishUpdate(u coordinator.Update) {
	msg := &OptimizationMessage{
		Date:        u.Date,
		Setpoint:    u.Setpoint,
		PublishedAt: time.Now(),
	}
	if u.Result != nil {
		msg.BestTempActual = u.Result.BestTempActual
		msg.HighBounds, msg.LowBounds, _ = u.Result.Bounds()
		msg.CostSavings = u.Result.Metric("costSavings")
		msg.PercentSavings = u.Result.Metric("percentSavings")
		msg.CO2Avoided = u.Result.Metric("co2Avoided")
		msg.CarsEquivalent = u.Result.Metric("carsEquivalent")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		logrus.Error(err)
		return
	}
	if err := p.bus.Publish(p.OptimizationTopic(), b, true); err != nil {
		logrus.Errorf("error publishing optimization: %s", err)
	}
	p.PublishSetpoint(u.Setpoint)
}

// PublishSetpoint publishes the setpoint as a plain number, or an empty payload when unknown.
func (p *Publisher) PublishSetpoint(setpoint *float64) {
	var payload []byte
	if setpoint != nil {
		payload = []byte(strconv.FormatFloat(*setpoint, 'f', -1, 64))
	}
	if err := p.bus.Publish(p.SetpointTopic(), payload, true); err != nil {
		logrus.Errorf("error publishing setpoint: %s", err)
	}
}
