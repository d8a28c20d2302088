package sensor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
)

// Static returns the same readings every cycle, stamped with the clock.
// It stands in for real hardware on a host build.
type Static struct {
	Values Sample
	Clock  Clock
}

// Read implements [Source].
func (s *Static) Read() Sample {
	out := s.Values
	if s.Clock != nil {
		out.At = s.Clock()
	}
	return out
}

// fileSample is the on-disk layout read by [FileSource]. Keys match the
// telemetry wire payload so a captured message can be replayed as-is.
type fileSample struct {
	AcX  float64 `json:"AcX"`
	AcY  float64 `json:"AcY"`
	AcZ  float64 `json:"AcZ"`
	GyX  float64 `json:"GyX"`
	GyY  float64 `json:"GyY"`
	GyZ  float64 `json:"GyZ"`
	Temp float64 `json:"Temp"`
	Hum  float64 `json:"Hum"`
	Btn  bool    `json:"Btn"`
}

// FileSource re-reads a JSON sample file on every call. An external
// process (or an operator) rewrites the file to drive the node. A
// missing or malformed file yields a sample whose numeric fields are all
// NaN, which the cycle sanitizes like any other transient fault.
type FileSource struct {
	path   string
	clock  Clock
	logger *slog.Logger
}

// NewFileSource creates a FileSource reading path.
func NewFileSource(path string, clock Clock, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SinceStart()
	}
	return &FileSource{path: path, clock: clock, logger: logger}
}

// Read implements [Source].
func (f *FileSource) Read() Sample {
	at := f.clock()

	fs, err := f.load()
	if err != nil {
		f.logger.Warn("sensor file read failed", "path", f.path, "error", err)
		nan := math.NaN()
		return Sample{
			AccelX: nan, AccelY: nan, AccelZ: nan,
			GyroX: nan, GyroY: nan, GyroZ: nan,
			Temperature: nan, Humidity: nan,
			At: at,
		}
	}

	return Sample{
		AccelX: fs.AcX, AccelY: fs.AcY, AccelZ: fs.AcZ,
		GyroX: fs.GyX, GyroY: fs.GyY, GyroZ: fs.GyZ,
		Temperature: fs.Temp,
		Humidity:    fs.Hum,
		Button:      fs.Btn,
		At:          at,
	}
}

func (f *FileSource) load() (fileSample, error) {
	var fs fileSample
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fs, err
	}
	if err := json.Unmarshal(data, &fs); err != nil {
		return fs, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return fs, nil
}
