// Package metrics exposes the node's Prometheus instruments. Every
// method is safe to call on a nil *Metrics (no-op), so components can
// take an optional recorder without guard checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "telenode"

// Metrics groups the node's collectors.
type Metrics struct {
	cycles        prometheus.Counter
	sensorFaults  *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	connects      *prometheus.CounterVec
	bufferDepth   prometheus.Gauge
	bufferDropped prometheus.Counter
	linkState     prometheus.Gauge

	// lastDropped is the buffer's cumulative drop count at the previous
	// ObserveBuffer call; the counter advances by the difference.
	lastDropped uint64
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed sample/evaluate/publish cycles.",
		}),
		sensorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_faults_total",
			Help:      "Sensor fields replaced with a sentinel after an invalid reading.",
		}, []string{"field"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish requests by record kind and outcome (sent, buffered).",
		}, []string{"kind", "outcome"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Link and session connect attempts by result.",
		}, []string{"stage", "result"}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Records waiting in the outbound buffer.",
		}),
		bufferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_dropped_total",
			Help:      "Records evicted from a full outbound buffer.",
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Connectivity state: 0 disconnected, 1 link up, 2 session up.",
		}),
	}

	reg.MustRegister(
		m.cycles,
		m.sensorFaults,
		m.publishes,
		m.connects,
		m.bufferDepth,
		m.bufferDropped,
		m.linkState,
	)
	return m
}

// IncCycle counts a completed cycle.
func (m *Metrics) IncCycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// SensorFault counts a sanitized field.
func (m *Metrics) SensorFault(field string) {
	if m == nil {
		return
	}
	m.sensorFaults.WithLabelValues(field).Inc()
}

// Published records the outcome of one publish request.
func (m *Metrics) Published(kind, outcome string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(kind, outcome).Inc()
}

// ConnectAttempt records a link or session connect attempt.
func (m *Metrics) ConnectAttempt(stage string, ok bool) {
	if m == nil {
		return
	}
	result := "fail"
	if ok {
		result = "ok"
	}
	m.connects.WithLabelValues(stage, result).Inc()
}

// SetLinkState records the numeric connectivity state.
func (m *Metrics) SetLinkState(v int) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(v))
}

// ObserveBuffer records the buffer depth and its cumulative drop count.
func (m *Metrics) ObserveBuffer(depth int, dropped uint64) {
	if m == nil {
		return
	}
	m.bufferDepth.Set(float64(depth))
	if dropped > m.lastDropped {
		m.bufferDropped.Add(float64(dropped - m.lastDropped))
	}
	m.lastDropped = dropped
}
