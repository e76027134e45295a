package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nergy-se/curvecontrol/pkg/state"
	"github.com/sirupsen/logrus"
)

// EntityPayload is what devices publish on {prefix}/entity/{entity_id}/state.
type EntityPayload struct {
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

func EntityFilter(prefix string) string {
	return prefix + "/entity/+/state"
}

func EntityTopic(prefix, entityID string) string {
	return fmt.Sprintf("%s/entity/%s/state", prefix, entityID)
}

// EntityID extracts the entity id from an entity state topic.
func EntityID(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/entity/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/state")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// DecodeEntity accepts a json EntityPayload or a bare state value like "21.5".
func DecodeEntity(id string, payload []byte) (state.Entity, error) {
	e := state.Entity{ID: id, LastUpdated: time.Now()}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		e.State = string(trimmed)
		return e, nil
	}

	p := &EntityPayload{}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(p); err != nil {
		return e, fmt.Errorf("invalid entity payload for %s: %w", id, err)
	}
	e.State = p.State
	e.Attributes = p.Attributes
	return e, nil
}

// ListenEntities stores every entity state published under prefix in registry.
func ListenEntities(bus Bus, prefix string, registry *state.Registry) error {
	return bus.Subscribe(EntityFilter(prefix), func(topic string, payload []byte) {
		id, ok := EntityID(prefix, topic)
		if !ok {
			logrus.WithField("topic", topic).Debug("ignoring message on unexpected topic")
			return
		}
		e, err := DecodeEntity(id, payload)
		if err != nil {
			logrus.WithField("topic", topic).Warn(err)
			return
		}
		registry.Set(e)
		logrus.WithFields(logrus.Fields{"entity": id, "state": e.State}).Debug("entity state updated")
	})
}

// PublishEntity publishes an entity state the same way devices do. Used by
// local pollers so everything ends up in the registry through one path.
func PublishEntity(bus Bus, prefix string, e state.Entity) error {
	b, err := json.Marshal(&EntityPayload{State: e.State, Attributes: e.Attributes})
	if err != nil {
		return err
	}
	return bus.Publish(EntityTopic(prefix, e.ID), b, true)
}
