package wire

import (
	"testing"
	"time"

	"github.com/nugget/telenode/internal/alert"
	"github.com/nugget/telenode/internal/sensor"
)

func TestTelemetry_GoldenAndRoundTrip(t *testing.T) {
	t.Parallel()

	s := sensor.Sample{
		AccelX: 0.25, AccelY: -0.5, AccelZ: 1,
		GyroX: 0, GyroY: 12.5, GyroZ: -100,
		Temperature: 21.5, Humidity: 48,
		Button: true,
		At:     1500 * time.Millisecond,
	}

	b, err := Encode(NewTelemetry(s))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := `{"timestamp":1500,"AcX":0.25,"AcY":-0.5,"AcZ":1,"GyX":0,"GyY":12.5,"GyZ":-100,"Temp":21.5,"Hum":48,"Btn":true}`
	if string(b) != want {
		t.Errorf("telemetry =\n%s\nwant\n%s", b, want)
	}

	back, err := DecodeTelemetry(b)
	if err != nil {
		t.Fatalf("DecodeTelemetry: %v", err)
	}
	if back != NewTelemetry(s) {
		t.Errorf("round trip = %+v, want %+v", back, NewTelemetry(s))
	}
}

func TestState_Golden(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{
			name:  "normal",
			state: NewState(alert.State{Reason: alert.ReasonNormal}),
			want:  `{"state":{"led":false,"motion":false,"climateAlert":false,"reason":"All normal"}}`,
		},
		{
			name:  "both",
			state: NewState(alert.State{Motion: true, Climate: true, Reason: "Motion detected + Climate alert"}),
			want:  `{"state":{"led":true,"motion":true,"climateAlert":true,"reason":"Motion detected + Climate alert"}}`,
		},
		{
			name:  "halt",
			state: HaltState(alert.State{Climate: true, Reason: alert.ReasonClimate}, "manual-button"),
			want:  `{"state":{"led":false,"motion":false,"climateAlert":true,"reason":"manual-button"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := Encode(tt.state)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("state =\n%s\nwant\n%s", b, tt.want)
			}
			back, err := DecodeState(b)
			if err != nil {
				t.Fatalf("DecodeState: %v", err)
			}
			if back != tt.state {
				t.Errorf("round trip = %+v, want %+v", back, tt.state)
			}
		})
	}
}

func TestLifecycle_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, l := range []Lifecycle{EnteringDeepSleep, Awake, AwakeWokeUp, AwakeInitial, NoAlertsSleeping} {
		got, err := ParseLifecycle(l.Bytes())
		if err != nil {
			t.Errorf("ParseLifecycle(%q): %v", l, err)
			continue
		}
		if got != l {
			t.Errorf("ParseLifecycle(%q) = %q", l, got)
		}
	}

	if string(NoAlertsSleeping.Bytes()) != "NO ALERTS – Sleeping..." {
		t.Errorf("NoAlertsSleeping bytes = %q, want en dash form", NoAlertsSleeping.Bytes())
	}
}

func TestParseLifecycle_Unknown(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "awake", `"AWAKE"`, "NO ALERTS - Sleeping..."} {
		if _, err := ParseLifecycle([]byte(in)); err == nil {
			t.Errorf("ParseLifecycle(%q) = nil error, want error", in)
		}
	}
}
