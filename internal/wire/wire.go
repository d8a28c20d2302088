// Package wire defines the JSON payloads the node publishes. Key order
// is fixed by struct field order so identical inputs always encode to
// identical bytes.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/telenode/internal/alert"
	"github.com/nugget/telenode/internal/sensor"
)

// Telemetry is the raw-reading payload published every cycle.
type Telemetry struct {
	Timestamp int64   `json:"timestamp"` // ms since boot
	AcX       float64 `json:"AcX"`
	AcY       float64 `json:"AcY"`
	AcZ       float64 `json:"AcZ"`
	GyX       float64 `json:"GyX"`
	GyY       float64 `json:"GyY"`
	GyZ       float64 `json:"GyZ"`
	Temp      float64 `json:"Temp"`
	Hum       float64 `json:"Hum"`
	Btn       bool    `json:"Btn"`
}

// NewTelemetry builds the payload from a (sanitized) sample.
func NewTelemetry(s sensor.Sample) Telemetry {
	return Telemetry{
		Timestamp: s.At.Milliseconds(),
		AcX:       s.AccelX,
		AcY:       s.AccelY,
		AcZ:       s.AccelZ,
		GyX:       s.GyroX,
		GyY:       s.GyroY,
		GyZ:       s.GyroZ,
		Temp:      s.Temperature,
		Hum:       s.Humidity,
		Btn:       s.Button,
	}
}

// StateBody is the inner object of a [State] payload.
type StateBody struct {
	LED          bool   `json:"led"`
	Motion       bool   `json:"motion"`
	ClimateAlert bool   `json:"climateAlert"`
	Reason       string `json:"reason"`
}

// State wraps the indicator/alert state under a "state" key.
type State struct {
	State StateBody `json:"state"`
}

// NewState builds the state payload for an alert evaluation. The
// indicator mirrors the combined alert.
func NewState(a alert.State) State {
	return State{StateBody{
		LED:          a.Active(),
		Motion:       a.Motion,
		ClimateAlert: a.Climate,
		Reason:       a.Reason,
	}}
}

// HaltState is the final state published before halting: indicator off,
// reason set to the halt cause.
func HaltState(a alert.State, cause string) State {
	return State{StateBody{
		LED:          false,
		Motion:       a.Motion,
		ClimateAlert: a.Climate,
		Reason:       cause,
	}}
}

// Encode marshals a payload. The payload types here cannot fail to
// marshal except for non-finite floats, which callers sanitize first.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// DecodeTelemetry parses a telemetry payload.
func DecodeTelemetry(b []byte) (Telemetry, error) {
	var t Telemetry
	if err := json.Unmarshal(b, &t); err != nil {
		return Telemetry{}, fmt.Errorf("decode telemetry: %w", err)
	}
	return t, nil
}

// DecodeState parses a state payload.
func DecodeState(b []byte) (State, error) {
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}
