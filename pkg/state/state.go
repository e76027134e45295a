package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// Entity is the latest known state of a device or sensor, eg a climate entity
// with state "cool" and attributes current_temperature, temperature and hvac_action.
type Entity struct {
	ID          string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
}

func (e *Entity) Available() bool {
	return e.State != StateUnknown && e.State != StateUnavailable && e.State != ""
}

// Float parses the state itself as a number.
func (e *Entity) Float() (*float64, error) {
	if !e.Available() {
		return nil, fmt.Errorf("entity %s is %s", e.ID, e.State)
	}
	f, err := strconv.ParseFloat(e.State, 64)
	if err != nil {
		return nil, fmt.Errorf("entity %s state %q is not a number: %w", e.ID, e.State, err)
	}
	return &f, nil
}

func (e *Entity) HasAttr(key string) bool {
	_, ok := e.Attributes[key]
	return ok
}

// FloatAttr returns the attribute as a number. Numeric strings are accepted.
func (e *Entity) FloatAttr(key string) (*float64, bool) {
	v, ok := e.Attributes[key]
	if !ok || v == nil {
		return nil, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		var err error
		if f, err = t.Float64(); err != nil {
			return nil, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(t, 64); err != nil {
			return nil, false
		}
	default:
		return nil, false
	}
	return &f, true
}

func (e *Entity) StringAttr(key string) *string {
	v, ok := e.Attributes[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return &s
}

// Registry holds the latest Entity per id.
type Registry struct {
	entities map[string]Entity
	sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]Entity)}
}

// Get returns a copy of the entity or nil if nothing has been reported for id.
func (r *Registry) Get(id string) *Entity {
	r.RLock()
	defer r.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil
	}
	attrs := make(map[string]interface{}, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	e.Attributes = attrs
	return &e
}

func (r *Registry) Set(e Entity) {
	if e.LastUpdated.IsZero() {
		e.LastUpdated = time.Now()
	}
	r.Lock()
	r.entities[e.ID] = e
	r.Unlock()
}

func (r *Registry) IDs() []string {
	r.RLock()
	defer r.RUnlock()
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	return ids
}
