package govee

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Capability instances reported by Govee thermo-hygrometers.
const (
	InstanceOnline      = "online"
	InstanceTemperature = "sensorTemperature"
	InstanceHumidity    = "sensorHumidity"
)

// rawCapability is a capability as it appears on the wire. The shape of
// State.Value depends on Instance.
type rawCapability struct {
	Type     string    `json:"type"`
	Instance string    `json:"instance"`
	State    *rawState `json:"state,omitempty"`
}

type rawState struct {
	Value json.RawMessage `json:"value"`
}

// Capability is one decoded capability value.
type Capability interface {
	Instance() string
}

// Online reports device reachability.
type Online struct{ Value bool }

// Temperature is the sensor temperature in °F, as the API reports it.
type Temperature struct{ Fahrenheit float64 }

// Humidity is the relative humidity in percent.
type Humidity struct{ Percent float64 }

func (Online) Instance() string      { return InstanceOnline }
func (Temperature) Instance() string { return InstanceTemperature }
func (Humidity) Instance() string    { return InstanceHumidity }

type capabilityDecoder func(json.RawMessage) (Capability, error)

var decoders = map[string]capabilityDecoder{
	InstanceOnline:      decodeOnline,
	InstanceTemperature: decodeTemperature,
	InstanceHumidity:    decodeHumidity,
}

// decodeCapability picks the decoder by instance name. Unknown instances and
// capabilities without a state return (nil, nil).
func decodeCapability(raw rawCapability) (Capability, error) {
	decode, ok := decoders[raw.Instance]
	if !ok || raw.State == nil || len(raw.State.Value) == 0 {
		return nil, nil
	}
	c, err := decode(raw.State.Value)
	if err != nil {
		return nil, fmt.Errorf("capability %s: %w", raw.Instance, err)
	}
	return c, nil
}

func decodeOnline(v json.RawMessage) (Capability, error) {
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return nil, err
	}
	return Online{Value: b}, nil
}

func decodeTemperature(v json.RawMessage) (Capability, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, err
	}
	return Temperature{Fahrenheit: f}, nil
}

// Humidity arrives either as {"currentHumidity": n} or as a bare number
// depending on the device model.
func decodeHumidity(v json.RawMessage) (Capability, error) {
	if trimmed := bytes.TrimSpace(v); len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			CurrentHumidity *float64 `json:"currentHumidity"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		if obj.CurrentHumidity == nil {
			return nil, fmt.Errorf("missing currentHumidity")
		}
		return Humidity{Percent: *obj.CurrentHumidity}, nil
	}

	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, err
	}
	return Humidity{Percent: f}, nil
}
