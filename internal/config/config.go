// Package config handles telenode configuration loading.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/telenode/config.yaml, /etc/telenode/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "telenode", "config.yaml"))
	}

	paths = append(paths, "/etc/telenode/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all telenode configuration.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Buffer     BufferConfig     `yaml:"buffer"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Power      PowerConfig      `yaml:"power"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Status     StatusConfig     `yaml:"status"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text (default) or json
}

// NodeConfig defines the cycle driver and device identity.
type NodeConfig struct {
	// DeviceName appears in every MQTT topic and in the status payload.
	DeviceName string `yaml:"device_name"`
	// DataDir holds the instance ID and the operational state database.
	DataDir string `yaml:"data_dir"`
	// CycleMS is the fixed period between cycles (default 100).
	CycleMS int `yaml:"cycle_ms"`
	// StartupGraceSec delays link retries after a failed first attempt
	// until the radio has had time to come up (default 30).
	StartupGraceSec int `yaml:"startup_grace_sec"`
}

// Cycle returns the cycle period as a duration.
func (n NodeConfig) Cycle() time.Duration {
	return time.Duration(n.CycleMS) * time.Millisecond
}

// StartupGrace returns the startup grace window as a duration.
func (n NodeConfig) StartupGrace() time.Duration {
	return time.Duration(n.StartupGraceSec) * time.Second
}

// ThresholdsConfig holds the alert limits. Motion limits are absolute
// values per axis.
type ThresholdsConfig struct {
	AccelG       float64 `yaml:"accel_g"`       // default 0.3
	GyroDPS      float64 `yaml:"gyro_dps"`      // default 50
	TempLowC     float64 `yaml:"temp_low_c"`    // default 10.0
	TempHighC    float64 `yaml:"temp_high_c"`   // default 25.0
	HumidityHigh float64 `yaml:"humidity_high"` // default 80.0
}

// BufferConfig sizes the outbound store-and-forward buffer.
type BufferConfig struct {
	Capacity int `yaml:"capacity"` // default 100
	// Persist saves undelivered records to the data dir at halt and
	// restores them on the next boot.
	Persist bool `yaml:"persist"`
}

// MQTTConfig defines the broker connection.
type MQTTConfig struct {
	Broker           string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	TopicPrefix      string `yaml:"topic_prefix"`       // default "telenode"
	KeepAliveSec     int    `yaml:"keepalive_sec"`      // default 30
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"` // default 2000
	PublishTimeoutMS int    `yaml:"publish_timeout_ms"` // default 1000
	// Jitter is the probability in [0,1) of skipping a reconnect
	// attempt on a given cycle. Zero disables it.
	Jitter float64 `yaml:"jitter"`
}

// Configured reports whether enough MQTT settings are present to
// attempt a broker connection.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// ConnectTimeout returns the per-attempt connect bound.
func (c MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// PublishTimeout returns the per-send bound.
func (c MQTTConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// PowerConfig controls the halt decision and the pre-halt blink.
type PowerConfig struct {
	DebounceMS   int `yaml:"debounce_ms"`    // default 50
	IdleGraceSec int `yaml:"idle_grace_sec"` // default 0: halt on the first clear cycle
	BlinkOnMS    int `yaml:"blink_on_ms"`    // default 200
	BlinkOffMS   int `yaml:"blink_off_ms"`   // default 200
	WakePin      int `yaml:"wake_pin"`       // default 4
	LEDPin       int `yaml:"led_pin"`        // default 5
}

// Debounce returns the manual-request debounce window.
func (p PowerConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceMS) * time.Millisecond
}

// IdleGrace returns how long the alert must stay clear before an
// automatic halt.
func (p PowerConfig) IdleGrace() time.Duration {
	return time.Duration(p.IdleGraceSec) * time.Second
}

// SensorConfig selects the sample source.
type SensorConfig struct {
	// Source is "static" (fixed values below) or "file" (JSON sample
	// re-read every cycle from File).
	Source string       `yaml:"source"`
	File   string       `yaml:"file"`
	Static StaticSample `yaml:"static"`
}

// StaticSample holds the fixed readings for the static source.
type StaticSample struct {
	AccelX      float64 `yaml:"accel_x"`
	AccelY      float64 `yaml:"accel_y"`
	AccelZ      float64 `yaml:"accel_z"`
	GyroX       float64 `yaml:"gyro_x"`
	GyroY       float64 `yaml:"gyro_y"`
	GyroZ       float64 `yaml:"gyro_z"`
	Temperature float64 `yaml:"temperature"`
	Humidity    float64 `yaml:"humidity"`
	Button      bool    `yaml:"button"`
}

// StatusConfig defines the read-only status endpoint.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8080
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Sensor: SensorConfig{
			Source: "static",
			Static: StaticSample{Temperature: 20, Humidity: 50},
		},
		Status: StatusConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values. Called after unmarshal so that a
// partial file only overrides what it names.
func (c *Config) applyDefaults() {
	if c.Node.DeviceName == "" {
		c.Node.DeviceName = "telenode"
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = "./data"
	}
	if c.Node.CycleMS <= 0 {
		c.Node.CycleMS = 100
	}
	if c.Node.StartupGraceSec <= 0 {
		c.Node.StartupGraceSec = 30
	}

	if c.Thresholds.AccelG <= 0 {
		c.Thresholds.AccelG = 0.3
	}
	if c.Thresholds.GyroDPS <= 0 {
		c.Thresholds.GyroDPS = 50
	}
	if c.Thresholds.TempLowC == 0 && c.Thresholds.TempHighC == 0 {
		c.Thresholds.TempLowC = 10.0
		c.Thresholds.TempHighC = 25.0
	}
	if c.Thresholds.HumidityHigh <= 0 {
		c.Thresholds.HumidityHigh = 80.0
	}

	if c.Buffer.Capacity <= 0 {
		c.Buffer.Capacity = 100
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "telenode"
	}
	if c.MQTT.KeepAliveSec <= 0 {
		c.MQTT.KeepAliveSec = 30
	}
	if c.MQTT.ConnectTimeoutMS <= 0 {
		c.MQTT.ConnectTimeoutMS = 2000
	}
	if c.MQTT.PublishTimeoutMS <= 0 {
		c.MQTT.PublishTimeoutMS = 1000
	}

	if c.Power.DebounceMS <= 0 {
		c.Power.DebounceMS = 50
	}
	if c.Power.BlinkOnMS <= 0 {
		c.Power.BlinkOnMS = 200
	}
	if c.Power.BlinkOffMS <= 0 {
		c.Power.BlinkOffMS = 200
	}
	if c.Power.WakePin == 0 {
		c.Power.WakePin = 4
	}
	if c.Power.LEDPin == 0 {
		c.Power.LEDPin = 5
	}

	if c.Sensor.Source == "" {
		c.Sensor.Source = "static"
	}
	if c.Status.Port == 0 {
		c.Status.Port = 8080
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format: unknown format %q (valid: text, json)", c.LogFormat)
	}
	if c.Thresholds.TempLowC >= c.Thresholds.TempHighC {
		return fmt.Errorf("thresholds: temp_low_c (%v) must be below temp_high_c (%v)",
			c.Thresholds.TempLowC, c.Thresholds.TempHighC)
	}
	if c.MQTT.Jitter < 0 || c.MQTT.Jitter >= 1 {
		return fmt.Errorf("mqtt.jitter: %v out of range [0,1)", c.MQTT.Jitter)
	}
	if c.MQTT.KeepAliveSec > math.MaxUint16 {
		return fmt.Errorf("mqtt.keepalive_sec: %d exceeds %d", c.MQTT.KeepAliveSec, math.MaxUint16)
	}
	if c.Power.IdleGraceSec < 0 {
		return fmt.Errorf("power.idle_grace_sec: must not be negative")
	}
	switch c.Sensor.Source {
	case "static":
	case "file":
		if c.Sensor.File == "" {
			return fmt.Errorf("sensor.file is required when sensor.source is \"file\"")
		}
	default:
		return fmt.Errorf("sensor.source: unknown source %q (valid: static, file)", c.Sensor.Source)
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port: %d out of range", c.Status.Port)
	}
	return nil
}
