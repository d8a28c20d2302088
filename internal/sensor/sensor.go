// Package sensor defines the per-cycle sample snapshot and the pull-style
// sources that produce it.
//
// A [Source] never fails outright. A transient fault shows up as NaN in
// the affected fields; [Sanitize] replaces those with zero and reports
// which fields were substituted so the caller can log and count them.
package sensor

import (
	"math"
	"time"
)

// MPU6050 full-scale divisors at the power-on ranges (±2 g, ±250 deg/s).
const (
	AccelLSBPerG  = 16384.0
	GyroLSBPerDPS = 131.0
)

// faultSubstitute replaces an unreadable field.
const faultSubstitute = 0

// Sample is an immutable snapshot of every reading taken in one cycle.
type Sample struct {
	AccelX, AccelY, AccelZ float64 // g
	GyroX, GyroY, GyroZ    float64 // deg/s
	Temperature            float64 // °C
	Humidity               float64 // %RH
	Button                 bool    // manual-sleep button currently pressed
	At                     time.Duration
}

// Source produces one Sample per call.
type Source interface {
	Read() Sample
}

// FromRawIMU converts raw MPU6050 register counts to engineering units.
func FromRawIMU(ax, ay, az, gx, gy, gz int16) (accel, gyro [3]float64) {
	accel = [3]float64{
		float64(ax) / AccelLSBPerG,
		float64(ay) / AccelLSBPerG,
		float64(az) / AccelLSBPerG,
	}
	gyro = [3]float64{
		float64(gx) / GyroLSBPerDPS,
		float64(gy) / GyroLSBPerDPS,
		float64(gz) / GyroLSBPerDPS,
	}
	return accel, gyro
}

// Sanitize returns a copy of s with every NaN or infinite field set to
// zero, plus the names of the fields that were replaced.
func Sanitize(s Sample) (Sample, []string) {
	var faults []string
	fix := func(name string, v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = faultSubstitute
			faults = append(faults, name)
		}
	}
	fix("accel_x", &s.AccelX)
	fix("accel_y", &s.AccelY)
	fix("accel_z", &s.AccelZ)
	fix("gyro_x", &s.GyroX)
	fix("gyro_y", &s.GyroY)
	fix("gyro_z", &s.GyroZ)
	fix("temperature", &s.Temperature)
	fix("humidity", &s.Humidity)
	return s, faults
}

// Clock returns the monotonic time since process start.
type Clock func() time.Duration

// SinceStart returns a Clock anchored at the moment it is called.
func SinceStart() Clock {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}
