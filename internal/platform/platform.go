// Package platform is the host rendition of the node's hardware edge:
// the alert indicator, the wake source, and the low-power halt.
//
// On the device these drive GPIO and enter deep sleep. On a host the
// indicator is a logged level, arming the wake source is recorded, and
// Halt marks the process as halted so the cycle driver stops. A later
// start of the binary plays the part of the wake.
package platform

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrAlreadyHalted is returned by Halt after the first call.
var ErrAlreadyHalted = errors.New("platform already halted")

// Indicator is the alert LED. It logs level changes only, so the
// per-cycle Set does not flood the log.
type Indicator struct {
	pin    int
	logger *slog.Logger

	mu sync.Mutex
	on bool
}

// NewIndicator creates an indicator on the given pin.
func NewIndicator(pin int, logger *slog.Logger) *Indicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{pin: pin, logger: logger}
}

// Set drives the indicator.
func (i *Indicator) Set(on bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.on == on {
		return
	}
	i.on = on
	i.logger.Debug("indicator", "pin", i.pin, "on", on)
}

// On reports the current indicator level.
func (i *Indicator) On() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}

// Host implements the wake and halt side of the platform.
type Host struct {
	wakePin int
	logger  *slog.Logger

	mu     sync.Mutex
	armed  bool
	halted bool
	cause  string
	done   chan struct{}
}

// NewHost creates a Host whose wake source is wakePin.
func NewHost(wakePin int, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{wakePin: wakePin, logger: logger, done: make(chan struct{})}
}

// ArmWake arms the wake source. It is the last configuration step
// before Halt; the same input that requests a manual halt wakes the
// node. The button pulls the pin low when pressed, so the trigger is a
// low level.
func (h *Host) ArmWake() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.armed = true
	h.logger.Info("wake source armed", "pin", h.wakePin, "level", "low")
	return nil
}

// Halt records the halt and closes Done. It returns instead of powering
// down; callers treat the return as the end of the process lifetime.
func (h *Host) Halt(cause string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return ErrAlreadyHalted
	}
	if !h.armed {
		h.logger.Warn("halting without an armed wake source", "pin", h.wakePin)
	}
	h.halted = true
	h.cause = cause
	close(h.done)
	h.logger.Info("entering low-power halt", "cause", cause)
	return nil
}

// Done is closed once Halt has been called.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Halted reports whether Halt has been called, and with what cause.
func (h *Host) Halted() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted, h.cause
}

// Armed reports whether the wake source is armed.
func (h *Host) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}
