// Package connwatch tracks the node's link and broker session and owns
// the outbound buffer.
//
// Unlike a background health watcher, the [Controller] never runs on its
// own goroutine. The cycle driver calls [Controller.Step] once per cycle;
// each step services the transport, notices lost links or sessions,
// makes at most one link attempt and one session attempt, and drains the
// buffer once a session is up. A failed attempt is simply retried on the
// next cycle, so the fixed cycle period is the backoff.
//
// State ladder:
//
//	Disconnected -> LinkUp -> SessionUp
//
// Entering SessionUp drains the buffer oldest-first and stops at the
// first rejected send, leaving the rest queued for the next cycle.
package connwatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nugget/telenode/internal/config"
	"github.com/nugget/telenode/internal/metrics"
	"github.com/nugget/telenode/internal/outbox"
)

// LinkState is the connectivity level reached.
type LinkState int

const (
	Disconnected LinkState = iota
	LinkUp
	SessionUp
)

// String returns the lowercase state name used in logs and status JSON.
func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case LinkUp:
		return "link_up"
	case SessionUp:
		return "session_up"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transport is the network collaborator. Send reports failure as false,
// never as a panic. Poll services the transport's internal state and is
// called once per cycle.
type Transport interface {
	LinkUp() bool
	ConnectLink(ctx context.Context) error
	SessionUp() bool
	ConnectSession(ctx context.Context, clientID string) error
	Send(ctx context.Context, topic string, payload []byte) bool
	Poll()
}

// Config configures a Controller.
type Config struct {
	// ClientID identifies the node to the broker.
	ClientID string

	// StartupGrace is how long after boot the controller waits before
	// retrying a link that has never come up (default 30s). The very
	// first cycle always attempts immediately.
	StartupGrace time.Duration

	// Jitter is the probability in [0,1) of skipping a reconnect attempt
	// on any cycle after the first. Spreads retries across a fleet.
	Jitter float64

	// OnSessionUp runs after the entry flush each time a session comes
	// up. Optional.
	OnSessionUp func(ctx context.Context)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger

	// Metrics records attempts, link state, and buffer depth. Optional.
	Metrics *metrics.Metrics
}

// Status is the controller's state, suitable for JSON serialization.
type Status struct {
	State       LinkState     `json:"state"`
	Pending     int           `json:"pending"`
	Dropped     uint64        `json:"dropped"`
	EverLinked  bool          `json:"ever_linked"`
	LastAttempt time.Duration `json:"last_attempt_ns"`
}

// Controller drives the Disconnected/LinkUp/SessionUp ladder.
type Controller struct {
	cfg       Config
	transport Transport
	buf       *outbox.Buffer
	logger    *slog.Logger
	chance    func() float64

	state       LinkState
	steps       int
	everLinked  bool
	lastAttempt time.Duration
}

// New creates a Controller owning buf.
func New(t Transport, buf *outbox.Buffer, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = 30 * time.Second
	}
	return &Controller{
		cfg:       cfg,
		transport: t,
		buf:       buf,
		logger:    cfg.Logger,
		chance:    rand.Float64,
	}
}

// State returns the current link state.
func (c *Controller) State() LinkState {
	return c.state
}

// Pending returns the number of buffered records.
func (c *Controller) Pending() int {
	return c.buf.Len()
}

// Dropped returns the buffer's cumulative eviction count.
func (c *Controller) Dropped() uint64 {
	return c.buf.Dropped()
}

// Backlog returns a copy of the buffered records, oldest first.
func (c *Controller) Backlog() []outbox.Record {
	return c.buf.Snapshot()
}

// Status returns the controller's state.
func (c *Controller) Status() Status {
	return Status{
		State:       c.state,
		Pending:     c.buf.Len(),
		Dropped:     c.buf.Dropped(),
		EverLinked:  c.everLinked,
		LastAttempt: c.lastAttempt,
	}
}

// Step advances the controller by one cycle. now is the monotonic time
// since boot.
func (c *Controller) Step(ctx context.Context, now time.Duration) {
	first := c.steps == 0
	c.steps++

	c.transport.Poll()
	c.detectLoss()

	if c.state == Disconnected && c.mayAttemptLink(first, now) {
		c.lastAttempt = now
		if err := c.transport.ConnectLink(ctx); err != nil {
			c.cfg.Metrics.ConnectAttempt("link", false)
			c.logger.Debug("link connect failed", "error", err)
		} else {
			c.cfg.Metrics.ConnectAttempt("link", true)
			c.everLinked = true
			c.setState(LinkUp)
		}
	}

	if c.state == LinkUp {
		if err := c.transport.ConnectSession(ctx, c.cfg.ClientID); err != nil {
			c.cfg.Metrics.ConnectAttempt("session", false)
			c.logger.Debug("session connect failed", "client_id", c.cfg.ClientID, "error", err)
		} else {
			c.cfg.Metrics.ConnectAttempt("session", true)
			c.setState(SessionUp)
			sent := c.Flush(ctx)
			c.logger.Info("session established",
				"client_id", c.cfg.ClientID,
				"flushed", sent,
				"pending", c.buf.Len(),
			)
			if c.cfg.OnSessionUp != nil {
				c.cfg.OnSessionUp(ctx)
			}
			c.observe()
			return
		}
	}

	if c.state == SessionUp && c.buf.Len() > 0 {
		c.Flush(ctx)
	}
	c.observe()
}

// Enqueue buffers r for a later flush.
func (c *Controller) Enqueue(r outbox.Record) {
	before := c.buf.Dropped()
	c.buf.Enqueue(r)
	if c.buf.Dropped() > before {
		c.logger.Warn("outbound buffer full, dropped oldest record",
			"capacity", c.buf.Cap(),
			"dropped_total", c.buf.Dropped(),
		)
	}
}

// Send hands r straight to the transport. It does not touch the buffer.
func (c *Controller) Send(ctx context.Context, r outbox.Record) bool {
	ok := c.transport.Send(ctx, r.Topic, r.Payload)
	c.logger.Log(ctx, config.LevelTrace, "send",
		"topic", r.Topic, "kind", r.Kind, "ok", ok, "payload", string(r.Payload))
	return ok
}

// Flush sends buffered records oldest-first while the session is up,
// removing each one only after the transport accepts it. It stops at the
// first failure and returns the number sent.
func (c *Controller) Flush(ctx context.Context) int {
	sent := 0
	for c.state == SessionUp {
		r, ok := c.buf.PeekFront()
		if !ok {
			break
		}
		if !c.Send(ctx, r) {
			c.logger.Debug("flush stopped at rejected send",
				"topic", r.Topic,
				"sent", sent,
				"remaining", c.buf.Len(),
			)
			break
		}
		c.buf.PopFront()
		sent++
	}
	return sent
}

// detectLoss demotes the state when the transport reports the session or
// link gone.
func (c *Controller) detectLoss() {
	switch c.state {
	case SessionUp:
		if c.transport.SessionUp() {
			return
		}
		if c.transport.LinkUp() {
			c.setState(LinkUp)
		} else {
			c.setState(Disconnected)
		}
	case LinkUp:
		if !c.transport.LinkUp() {
			c.setState(Disconnected)
		}
	}
}

// mayAttemptLink applies the startup policy: try at once on the first
// cycle, then only after a previous success or once the grace window has
// passed, so the node does not spin before its radio is ready.
func (c *Controller) mayAttemptLink(first bool, now time.Duration) bool {
	if first {
		return true
	}
	if !c.everLinked && now < c.cfg.StartupGrace {
		return false
	}
	return !c.skipForJitter(first)
}

func (c *Controller) skipForJitter(first bool) bool {
	if first || c.cfg.Jitter <= 0 {
		return false
	}
	return c.chance() < c.cfg.Jitter
}

func (c *Controller) setState(s LinkState) {
	if s == c.state {
		return
	}
	c.logger.Info("link state changed", "from", c.state.String(), "to", s.String())
	c.state = s
}

func (c *Controller) observe() {
	c.cfg.Metrics.SetLinkState(int(c.state))
	c.cfg.Metrics.ObserveBuffer(c.buf.Len(), c.buf.Dropped())
}
