// Package node is the cycle driver. It owns one instance of every core
// component and runs them in a fixed order on a fixed period:
//
//	read -> sanitize -> evaluate -> indicator -> connectivity step ->
//	publish telemetry and state -> power decision -> (halt)
//
// Everything runs on the goroutine that calls [Node.Run]. The only state
// shared with other goroutines is the status snapshot, copied under a
// mutex at the end of each cycle.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/telenode/internal/alert"
	"github.com/nugget/telenode/internal/config"
	"github.com/nugget/telenode/internal/connwatch"
	"github.com/nugget/telenode/internal/metrics"
	"github.com/nugget/telenode/internal/mqtt"
	"github.com/nugget/telenode/internal/opstate"
	"github.com/nugget/telenode/internal/outbox"
	"github.com/nugget/telenode/internal/power"
	"github.com/nugget/telenode/internal/publish"
	"github.com/nugget/telenode/internal/sensor"
	"github.com/nugget/telenode/internal/status"
	"github.com/nugget/telenode/internal/wire"
)

// Config is the driver's tuning, usually derived from the config file
// by [ConfigFrom].
type Config struct {
	ClientID string
	Topics   mqtt.Topics
	Cycle    time.Duration

	Thresholds alert.Thresholds

	BufferCapacity int
	// PersistBacklog saves undelivered records at halt or shutdown and
	// restores them on the next start.
	PersistBacklog bool

	StartupGrace time.Duration
	Jitter       float64

	Debounce  time.Duration
	IdleGrace time.Duration
	BlinkOn   time.Duration
	BlinkOff  time.Duration
}

// ConfigFrom maps the file configuration onto the driver's.
func ConfigFrom(cfg *config.Config, clientID string) Config {
	return Config{
		ClientID: clientID,
		Topics:   mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Node.DeviceName),
		Cycle:    cfg.Node.Cycle(),
		Thresholds: alert.Thresholds{
			Accel:        cfg.Thresholds.AccelG,
			Gyro:         cfg.Thresholds.GyroDPS,
			TempLow:      cfg.Thresholds.TempLowC,
			TempHigh:     cfg.Thresholds.TempHighC,
			HumidityHigh: cfg.Thresholds.HumidityHigh,
		},
		BufferCapacity: cfg.Buffer.Capacity,
		PersistBacklog: cfg.Buffer.Persist,
		StartupGrace:   cfg.Node.StartupGrace(),
		Jitter:         cfg.MQTT.Jitter,
		Debounce:       cfg.Power.Debounce(),
		IdleGrace:      cfg.Power.IdleGrace(),
		BlinkOn:        time.Duration(cfg.Power.BlinkOnMS) * time.Millisecond,
		BlinkOff:       time.Duration(cfg.Power.BlinkOffMS) * time.Millisecond,
	}
}

// Deps are the node's collaborators. Store, Metrics and Logger are
// optional.
type Deps struct {
	Source    sensor.Source
	Transport connwatch.Transport
	Indicator power.Indicator
	Platform  power.Platform
	Store     *opstate.Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Sleep overrides the blink delay. Tests use a no-op.
	Sleep func(ctx context.Context, d time.Duration)
}

// Node is the cycle driver.
type Node struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	link  *connwatch.Controller
	pub   *publish.Publisher
	power *power.Controller

	sessions int

	mu   sync.Mutex
	snap status.Snapshot
}

// New wires the components. When a store is given, the boot is recorded
// and, with PersistBacklog, the previous lifetime's backlog is restored
// ahead of this boot's lifecycle token.
func New(cfg Config, deps Deps) *Node {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	n := &Node{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}

	n.link = connwatch.New(deps.Transport, outbox.New(cfg.BufferCapacity), connwatch.Config{
		ClientID:     cfg.ClientID,
		StartupGrace: cfg.StartupGrace,
		Jitter:       cfg.Jitter,
		OnSessionUp:  n.onSessionUp,
		Logger:       deps.Logger,
		Metrics:      deps.Metrics,
	})
	n.pub = publish.New(n.link, deps.Logger, deps.Metrics)
	n.power = power.New(power.Config{
		Debounce:       cfg.Debounce,
		IdleGrace:      cfg.IdleGrace,
		BlinkOn:        cfg.BlinkOn,
		BlinkOff:       cfg.BlinkOff,
		StateTopic:     cfg.Topics.State,
		LifecycleTopic: cfg.Topics.Lifecycle,
		Publisher:      n.pub,
		Indicator:      deps.Indicator,
		Platform:       &persistingPlatform{Platform: deps.Platform, node: n},
		Sleep:          deps.Sleep,
		Logger:         deps.Logger,
	})

	n.boot()
	return n
}

// boot restores any saved backlog and queues the boot lifecycle token.
// It is queued rather than sent so it goes out on the first session in
// order behind the restored records.
func (n *Node) boot() {
	token := wire.AwakeInitial
	if s := n.deps.Store; s != nil {
		b, err := s.RecordBoot()
		if err != nil {
			n.logger.Error("failed to record boot", "error", err)
		} else {
			if b.Woke {
				token = wire.AwakeWokeUp
			}
			n.logger.Info("boot recorded",
				"count", b.Count,
				"woke", b.Woke,
				"last_halt", b.LastHalt,
			)
		}

		if n.cfg.PersistBacklog {
			records, err := s.TakeBacklog()
			if err != nil {
				n.logger.Error("failed to restore backlog", "error", err)
			}
			for _, r := range records {
				n.link.Enqueue(r)
			}
			if len(records) > 0 {
				n.logger.Info("restored backlog", "records", len(records))
			}
		}
	}

	n.enqueueLifecycle(token)
}

// onSessionUp announces every session after the first; the first is
// covered by the boot token.
func (n *Node) onSessionUp(ctx context.Context) {
	n.sessions++
	if n.sessions == 1 {
		return
	}
	n.publishLifecycle(ctx, wire.Awake)
}

// Snapshot implements [status.Source].
func (n *Node) Snapshot() status.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snap
}

// LinkStatus returns the connectivity controller's state.
func (n *Node) LinkStatus() connwatch.Status {
	return n.link.Status()
}

// Cycle runs one cycle and returns the resulting power state.
func (n *Node) Cycle(ctx context.Context) power.State {
	raw := n.deps.Source.Read()
	s, faults := sensor.Sanitize(raw)
	if len(faults) > 0 {
		n.logger.Warn("sensor fault, substituted zero", "fields", faults)
		for _, f := range faults {
			n.metrics.SensorFault(f)
		}
	}

	a := alert.Evaluate(s, n.cfg.Thresholds)
	if n.deps.Indicator != nil {
		n.deps.Indicator.Set(a.Active())
	}

	n.link.Step(ctx, s.At)

	n.publishPayload(ctx, outbox.KindTelemetry, n.cfg.Topics.Telemetry, wire.NewTelemetry(s))
	n.publishPayload(ctx, outbox.KindState, n.cfg.Topics.State, wire.NewState(a))

	n.mu.Lock()
	n.snap = status.Snapshot{Alert: a, BufferDepth: n.link.Pending()}
	n.mu.Unlock()

	n.metrics.IncCycle()
	n.logger.Log(ctx, config.LevelTrace, "cycle",
		"at", s.At,
		"reason", a.Reason,
		"link", n.link.State().String(),
		"pending", n.link.Pending(),
	)

	d := n.power.Decide(s, a)
	if d.State != power.PendingHalt {
		return d.State
	}

	st := n.power.Halt(ctx, a)

	n.mu.Lock()
	n.snap.BufferDepth = n.link.Pending()
	n.mu.Unlock()
	return st
}

// Run cycles every Config.Cycle until the node halts or ctx is done.
// It returns nil after a halt and ctx.Err() on cancellation.
func (n *Node) Run(ctx context.Context) error {
	period := n.cfg.Cycle
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	n.logger.Info("node running",
		"client_id", n.cfg.ClientID,
		"cycle", period.String(),
		"buffer_capacity", n.cfg.BufferCapacity,
	)

	for {
		if n.Cycle(ctx) == power.Halted {
			return nil
		}
		select {
		case <-ctx.Done():
			n.saveBacklog()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) publishPayload(ctx context.Context, kind outbox.Kind, topic string, v any) {
	payload, err := wire.Encode(v)
	if err != nil {
		n.logger.Error("payload encode failed", "kind", kind, "error", err)
		return
	}
	r, err := outbox.NewRecord(kind, topic, payload)
	if err != nil {
		n.logger.Error("record rejected", "kind", kind, "error", err)
		return
	}
	n.pub.Publish(ctx, r)
}

func (n *Node) publishLifecycle(ctx context.Context, l wire.Lifecycle) {
	r, err := outbox.NewRecord(outbox.KindLifecycle, n.cfg.Topics.Lifecycle, l.Bytes())
	if err != nil {
		n.logger.Error("record rejected", "kind", outbox.KindLifecycle, "error", err)
		return
	}
	n.pub.Publish(ctx, r)
}

func (n *Node) enqueueLifecycle(l wire.Lifecycle) {
	r, err := outbox.NewRecord(outbox.KindLifecycle, n.cfg.Topics.Lifecycle, l.Bytes())
	if err != nil {
		n.logger.Error("record rejected", "kind", outbox.KindLifecycle, "error", err)
		return
	}
	n.link.Enqueue(r)
}

// saveBacklog persists undelivered records when enabled.
func (n *Node) saveBacklog() {
	if n.deps.Store == nil || !n.cfg.PersistBacklog {
		return
	}
	backlog := n.link.Backlog()
	if err := n.deps.Store.SaveBacklog(backlog); err != nil {
		n.logger.Error("failed to save backlog", "records", len(backlog), "error", err)
		return
	}
	if len(backlog) > 0 {
		n.logger.Info("saved backlog", "records", len(backlog))
	}
}

// persistingPlatform records the halt and the backlog before handing
// off to the real platform, whose Halt may never return.
type persistingPlatform struct {
	power.Platform
	node *Node
}

func (p *persistingPlatform) ArmWake() error {
	if p.Platform == nil {
		return nil
	}
	return p.Platform.ArmWake()
}

func (p *persistingPlatform) Halt(cause string) error {
	n := p.node
	if n.deps.Store != nil {
		if err := n.deps.Store.RecordHalt(cause); err != nil {
			n.logger.Error("failed to record halt", "cause", cause, "error", err)
		}
	}
	n.saveBacklog()
	if p.Platform == nil {
		return nil
	}
	return p.Platform.Halt(cause)
}
