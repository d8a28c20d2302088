package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("node:\n  device_name: shed\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("node:\n  cycle_ms: 250\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"cycle", cfg.Node.Cycle(), 100 * time.Millisecond},
		{"startup grace", cfg.Node.StartupGrace(), 30 * time.Second},
		{"accel", cfg.Thresholds.AccelG, 0.3},
		{"gyro", cfg.Thresholds.GyroDPS, 50.0},
		{"temp low", cfg.Thresholds.TempLowC, 10.0},
		{"temp high", cfg.Thresholds.TempHighC, 25.0},
		{"humidity", cfg.Thresholds.HumidityHigh, 80.0},
		{"capacity", cfg.Buffer.Capacity, 100},
		{"debounce", cfg.Power.Debounce(), 50 * time.Millisecond},
		{"idle grace", cfg.Power.IdleGrace(), time.Duration(0)},
		{"topic prefix", cfg.MQTT.TopicPrefix, "telenode"},
		{"sensor source", cfg.Sensor.Source, "static"},
		{"status port", cfg.Status.Port, 8080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
node:
  device_name: greenhouse
thresholds:
  temp_high_c: 30
buffer:
  capacity: 8
status:
  enabled: false
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Node.DeviceName != "greenhouse" {
		t.Errorf("device_name = %q, want greenhouse", cfg.Node.DeviceName)
	}
	if cfg.Thresholds.TempHighC != 30 || cfg.Thresholds.TempLowC != 10 {
		t.Errorf("temp thresholds = %v/%v, want 10/30", cfg.Thresholds.TempLowC, cfg.Thresholds.TempHighC)
	}
	if cfg.Buffer.Capacity != 8 {
		t.Errorf("capacity = %d, want 8", cfg.Buffer.Capacity)
	}
	if cfg.Status.Enabled {
		t.Error("status.enabled = true, want false")
	}
	if cfg.Node.CycleMS != 100 {
		t.Errorf("cycle_ms = %d, want default 100", cfg.Node.CycleMS)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  broker: mqtt://localhost:1883\n  password: ${TELENODE_TEST_PASSWORD}\n"), 0600)
	t.Setenv("TELENODE_TEST_PASSWORD", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
	if !cfg.MQTT.Configured() {
		t.Error("Configured() = false with broker set")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"inverted temps", func(c *Config) { c.Thresholds.TempLowC = 30 }, "temp_low_c"},
		{"jitter too high", func(c *Config) { c.MQTT.Jitter = 1 }, "jitter"},
		{"file without path", func(c *Config) { c.Sensor.Source = "file" }, "sensor.file"},
		{"unknown source", func(c *Config) { c.Sensor.Source = "i2c" }, "sensor.source"},
		{"negative idle grace", func(c *Config) { c.Power.IdleGraceSec = -1 }, "idle_grace"},
		{"keepalive overflows", func(c *Config) { c.MQTT.KeepAliveSec = 65536 }, "keepalive_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_KeepAliveUpperBound(t *testing.T) {
	cfg := Default()
	cfg.MQTT.KeepAliveSec = 65535
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with keepalive 65535 = %v, want nil", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire dump")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("output %q does not contain level=TRACE", buf.String())
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo, "json").Info("hello", "k", 1)

	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json logger output %q is not JSON", buf.String())
	}
}
