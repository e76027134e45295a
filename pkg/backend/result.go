package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedResponse = errors.New("malformed response")

const (
	keyHourlyTemperature = "HourlyTemperature"
	keyBestTempActual    = "bestTempActual"
)

// Result is an optimizer answer. Everything but the two schedules is kept
// opaque and marshals back exactly as received.
type Result struct {
	raw               map[string]json.RawMessage
	HourlyTemperature []json.RawMessage
	BestTempActual    []float64
}

func ParseResult(b []byte) (*Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: body is not an object", ErrMalformedResponse)
	}

	r := &Result{raw: raw}
	hourly, ok := raw[keyHourlyTemperature]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, keyHourlyTemperature)
	}
	if err := json.Unmarshal(hourly, &r.HourlyTemperature); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedResponse, keyHourlyTemperature, err)
	}
	best, ok := raw[keyBestTempActual]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, keyBestTempActual)
	}
	if err := json.Unmarshal(best, &r.BestTempActual); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedResponse, keyBestTempActual, err)
	}
	return r, nil
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.raw)
}

func (r *Result) UnmarshalJSON(b []byte) error {
	p, err := ParseResult(b)
	if err != nil {
		return err
	}
	*r = *p
	return nil
}

// Metric returns a top level numeric field like costSavings or co2Avoided.
func (r *Result) Metric(key string) *float64 {
	v, ok := r.raw[key]
	if !ok {
		return nil
	}
	var f *float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil
	}
	return f
}

// Bounds decodes HourlyTemperature[1] and [2], where the optimizer echoes the
// high and low envelope.
func (r *Result) Bounds() (high, low []float64, ok bool) {
	if len(r.HourlyTemperature) < 3 {
		return nil, nil, false
	}
	if json.Unmarshal(r.HourlyTemperature[1], &high) != nil {
		return nil, nil, false
	}
	if json.Unmarshal(r.HourlyTemperature[2], &low) != nil {
		return nil, nil, false
	}
	return high, low, true
}

func isNull(b json.RawMessage) bool {
	return len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
