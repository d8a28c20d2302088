// Package power decides each cycle whether the node may halt into its
// low-power mode, and runs the pre-halt sequence when it does.
//
// The node halts on either of two causes:
//
//   - manual-button: the sleep button has been held longer than the
//     debounce window. This overrides an active alert.
//   - no-alert-timeout: the combined alert is clear (for at least the
//     idle grace, zero by default).
//
// Halted is terminal for the process. Waking is a fresh start, not a
// transition out of Halted.
package power

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/telenode/internal/alert"
	"github.com/nugget/telenode/internal/outbox"
	"github.com/nugget/telenode/internal/publish"
	"github.com/nugget/telenode/internal/sensor"
	"github.com/nugget/telenode/internal/wire"
)

// State is the power state.
type State int

const (
	Active State = iota
	PendingHalt
	Halted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case PendingHalt:
		return "pending_halt"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// Cause identifies why the node is halting.
type Cause string

const (
	CauseNone    Cause = ""
	CauseManual  Cause = "manual-button"
	CauseNoAlert Cause = "no-alert-timeout"
)

// Blinks returns the indicator blink count for the cause: three for a
// manual request, two for an automatic halt.
func (c Cause) Blinks() int {
	switch c {
	case CauseManual:
		return 3
	case CauseNoAlert:
		return 2
	default:
		return 0
	}
}

// Marker returns the lifecycle token published just before halting.
func (c Cause) Marker() wire.Lifecycle {
	if c == CauseManual {
		return wire.EnteringDeepSleep
	}
	return wire.NoAlertsSleeping
}

// Decision is the outcome of [Controller.Decide].
type Decision struct {
	State State
	Cause Cause
}

// Publisher is satisfied by [publish.Publisher].
type Publisher interface {
	Publish(ctx context.Context, r outbox.Record) publish.Outcome
}

// Indicator drives the visual alert indicator.
type Indicator interface {
	Set(on bool)
}

// Platform performs the hardware side of halting. Halt is expected not
// to return on real hardware; on a host it returns once the halt is
// recorded and the driver then stops scheduling cycles.
type Platform interface {
	ArmWake() error
	Halt(cause string) error
}

// Config configures a Controller.
type Config struct {
	Debounce  time.Duration // default 50ms
	IdleGrace time.Duration // default 0
	BlinkOn   time.Duration
	BlinkOff  time.Duration

	StateTopic     string
	LifecycleTopic string

	Publisher Publisher
	Indicator Indicator
	Platform  Platform

	// Sleep waits between blink phases. Defaults to a context-aware
	// timer; tests substitute a no-op.
	Sleep func(ctx context.Context, d time.Duration)

	Logger *slog.Logger
}

// Controller is the Active -> PendingHalt -> Halted state machine.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	state State
	cause Cause

	started     bool
	lastRelease time.Duration
	clearSince  time.Duration
	clearing    bool
}

// New creates a Controller in the Active state.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Controller{cfg: cfg, logger: cfg.Logger}
}

// State returns the current power state.
func (c *Controller) State() State {
	return c.state
}

// Cause returns the halt cause, or CauseNone while active.
func (c *Controller) Cause() Cause {
	return c.cause
}

// Decide evaluates one cycle's sample and alert state. It moves Active
// to PendingHalt when the button has been held past the debounce window
// (measured from the last sample that saw it released) or when the alert
// is clear. A button already down on the first sample is a manual
// request: it was held through boot. Once pending or halted, the
// decision is sticky.
func (c *Controller) Decide(s sensor.Sample, a alert.State) Decision {
	if c.state != Active {
		return Decision{State: c.state, Cause: c.cause}
	}

	first := !c.started
	c.started = true
	if first && s.Button {
		c.logger.Info("sleep button held at boot")
		return c.pend(CauseManual)
	}

	if !s.Button {
		c.lastRelease = s.At
	} else if held := s.At - c.lastRelease; held > c.cfg.Debounce {
		c.logger.Info("sleep button held", "held", held.String())
		return c.pend(CauseManual)
	}

	if a.Active() {
		c.clearing = false
		return Decision{State: Active}
	}

	if !c.clearing {
		c.clearing = true
		c.clearSince = s.At
	}
	if s.At-c.clearSince >= c.cfg.IdleGrace {
		return c.pend(CauseNoAlert)
	}
	return Decision{State: Active}
}

func (c *Controller) pend(cause Cause) Decision {
	c.state = PendingHalt
	c.cause = cause
	c.logger.Info("halt pending", "cause", string(cause))
	return Decision{State: PendingHalt, Cause: cause}
}

// Halt runs the pre-halt sequence and returns Halted:
//
//  1. publish a state record with the indicator off and the cause as reason
//  2. publish the lifecycle marker for the cause
//  3. blink the indicator (3 manual, 2 automatic)
//  4. arm the wake source
//  5. halt the platform
//
// Every step runs regardless of earlier failures or the transport state;
// failures are logged. Halt is a no-op unless the state is PendingHalt.
func (c *Controller) Halt(ctx context.Context, a alert.State) State {
	if c.state != PendingHalt {
		return c.state
	}
	cause := c.cause

	c.publish(ctx, outbox.KindState, c.cfg.StateTopic, wire.HaltState(a, string(cause)))
	c.publishLifecycle(ctx, cause.Marker())
	c.blink(ctx, cause.Blinks())

	if c.cfg.Platform != nil {
		if err := c.cfg.Platform.ArmWake(); err != nil {
			c.logger.Error("arm wake source failed", "error", err)
		}
	}

	c.state = Halted
	c.logger.Info("halting", "cause", string(cause))

	if c.cfg.Platform != nil {
		if err := c.cfg.Platform.Halt(string(cause)); err != nil {
			c.logger.Error("platform halt failed", "cause", string(cause), "error", err)
		}
	}
	return Halted
}

func (c *Controller) publish(ctx context.Context, kind outbox.Kind, topic string, v any) {
	payload, err := wire.Encode(v)
	if err != nil {
		c.logger.Error("pre-halt payload encode failed", "kind", kind, "error", err)
		return
	}
	c.publishRaw(ctx, kind, topic, payload)
}

func (c *Controller) publishLifecycle(ctx context.Context, l wire.Lifecycle) {
	c.publishRaw(ctx, outbox.KindLifecycle, c.cfg.LifecycleTopic, l.Bytes())
}

func (c *Controller) publishRaw(ctx context.Context, kind outbox.Kind, topic string, payload []byte) {
	if c.cfg.Publisher == nil {
		return
	}
	r, err := outbox.NewRecord(kind, topic, payload)
	if err != nil {
		c.logger.Error("pre-halt record rejected", "kind", kind, "error", err)
		return
	}
	out := c.cfg.Publisher.Publish(ctx, r)
	c.logger.Debug("pre-halt record published", "kind", kind, "outcome", out.String())
}

func (c *Controller) blink(ctx context.Context, n int) {
	if c.cfg.Indicator == nil {
		return
	}
	for range n {
		c.cfg.Indicator.Set(true)
		c.cfg.Sleep(ctx, c.cfg.BlinkOn)
		c.cfg.Indicator.Set(false)
		c.cfg.Sleep(ctx, c.cfg.BlinkOff)
	}
	c.cfg.Indicator.Set(false)
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
