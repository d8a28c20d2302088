package platform

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestIndicator_LogsChangesOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ind := NewIndicator(5, logger)

	for _, on := range []bool{true, true, true, false, false, true} {
		ind.Set(on)
	}

	if got := strings.Count(buf.String(), "msg=indicator"); got != 3 {
		t.Errorf("logged %d indicator changes, want 3\n%s", got, buf.String())
	}
	if !ind.On() {
		t.Error("On() = false, want true")
	}
}

func TestHost_Halt(t *testing.T) {
	t.Parallel()

	h := NewHost(4, nil)
	if err := h.ArmWake(); err != nil {
		t.Fatalf("ArmWake() error = %v", err)
	}
	if !h.Armed() {
		t.Error("Armed() = false after ArmWake")
	}

	select {
	case <-h.Done():
		t.Fatal("Done closed before Halt")
	default:
	}

	if err := h.Halt("manual-button"); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Halt")
	}

	halted, cause := h.Halted()
	if !halted || cause != "manual-button" {
		t.Errorf("Halted() = %v, %q", halted, cause)
	}

	if err := h.Halt("again"); !errors.Is(err, ErrAlreadyHalted) {
		t.Errorf("second Halt() error = %v, want ErrAlreadyHalted", err)
	}
}

func TestHost_ArmWakeLogsLowLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewHost(4, slog.New(slog.NewTextHandler(&buf, nil)))
	if err := h.ArmWake(); err != nil {
		t.Fatalf("ArmWake() error = %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "pin=4") || !strings.Contains(out, "level=low") {
		t.Errorf("arm log = %q, want pin=4 level=low", out)
	}
}
