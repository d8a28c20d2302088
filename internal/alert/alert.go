// Package alert turns a sensor sample into the node's alert state.
package alert

import (
	"math"

	"github.com/nugget/telenode/internal/sensor"
)

// Reason phrases. The combined reason always lists motion first.
const (
	ReasonMotion  = "Motion detected"
	ReasonClimate = "Climate alert"
	ReasonNormal  = "All normal"
	reasonJoin    = " + "
)

// Thresholds are the configured alert limits.
type Thresholds struct {
	Accel        float64 // g, per axis, absolute
	Gyro         float64 // deg/s, per axis, absolute
	TempLow      float64 // °C
	TempHigh     float64 // °C
	HumidityHigh float64 // %RH
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Accel:        0.3,
		Gyro:         50,
		TempLow:      10.0,
		TempHigh:     25.0,
		HumidityHigh: 80.0,
	}
}

// State is the alert outcome of one cycle.
type State struct {
	Motion  bool   `json:"motion"`
	Climate bool   `json:"climateAlert"`
	Reason  string `json:"reason"`
}

// Active reports whether any alert condition holds. It drives both the
// indicator and the sleep decision.
func (s State) Active() bool {
	return s.Motion || s.Climate
}

// Evaluate computes the alert state for s. It is pure and total: NaN
// readings compare false against every limit and never fire an alert.
func Evaluate(s sensor.Sample, th Thresholds) State {
	motion := exceeds(th.Accel, s.AccelX, s.AccelY, s.AccelZ) ||
		exceeds(th.Gyro, s.GyroX, s.GyroY, s.GyroZ)
	climate := s.Temperature < th.TempLow ||
		s.Temperature > th.TempHigh ||
		s.Humidity > th.HumidityHigh

	return State{
		Motion:  motion,
		Climate: climate,
		Reason:  reason(motion, climate),
	}
}

func exceeds(limit float64, axes ...float64) bool {
	for _, v := range axes {
		if math.Abs(v) > limit {
			return true
		}
	}
	return false
}

func reason(motion, climate bool) string {
	switch {
	case motion && climate:
		return ReasonMotion + reasonJoin + ReasonClimate
	case motion:
		return ReasonMotion
	case climate:
		return ReasonClimate
	default:
		return ReasonNormal
	}
}
