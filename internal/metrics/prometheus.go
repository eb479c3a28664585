package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/lifeline/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are registered lazily on first use so constructing a collector
// that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	currentState     prometheus.Gauge
	ticks            *prometheus.CounterVec
	aggregateAge     prometheus.Gauge
	cadenceChanges   *prometheus.CounterVec
	baseInterval     prometheus.Gauge

	heartbeats *prometheus.CounterVec

	activeTransports prometheus.Gauge
	transportSends   *prometheus.CounterVec
	received         *prometheus.CounterVec
	duplicates       *prometheus.CounterVec

	storeFallbacks *prometheus.CounterVec

	escalations  *prometheus.CounterVec
	attemptCount prometheus.Gauge
	bridgeCalls  *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "lifeline" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "lifeline"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "state_transitions_total",
			Help:      "Scheduler state transitions by from/to state.",
		}, []string{"from", "to"})
		p.currentState = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "state",
			Help:      "Current scheduler state (0=stopped,1=active,2=degraded).",
		})
		p.ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by state and outcome (fresh,stale).",
		}, []string{"state", "outcome"})
		p.aggregateAge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "aggregate_age_seconds",
			Help:      "Age of the global heartbeat aggregate at the last tick (-1 when none observed).",
		})
		p.cadenceChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "cadence_changes_total",
			Help:      "Cadence rewrites by power state.",
		}, []string{"power"})
		p.baseInterval = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "base_interval_seconds",
			Help:      "Base tick interval currently in effect.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "beats_total",
			Help:      "Heartbeats published by result (success,failure).",
		}, []string{"result"})

		p.activeTransports = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "relay",
			Name:      "active_transports",
			Help:      "Number of transports that passed the startup probe.",
		})
		p.transportSends = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "relay",
			Name:      "sends_total",
			Help:      "Messages sent by transport and result.",
		}, []string{"transport", "result"})
		p.received = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "relay",
			Name:      "received_total",
			Help:      "Messages received by transport and type.",
		}, []string{"transport", "type"})
		p.duplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "relay",
			Name:      "duplicate_deliveries_total",
			Help:      "Inbound messages already delivered by another transport.",
		}, []string{"transport"})

		p.storeFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "fallbacks_total",
			Help:      "Backend failures served from the in-memory layer by operation.",
		}, []string{"op"})

		p.escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "escalations_total",
			Help:      "Escalations by whether self-reload was suppressed.",
		}, []string{"suppressed"})
		p.attemptCount = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "attempt_count",
			Help:      "Persisted attempt count in the current cooldown window.",
		})
		p.bridgeCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "bridge_calls_total",
			Help:      "Recovery bridge calls by operation and result.",
		}, []string{"op", "result"})

		p.reg.MustRegister(
			p.stateTransitions, p.currentState, p.ticks, p.aggregateAge, p.cadenceChanges, p.baseInterval,
			p.heartbeats,
			p.activeTransports, p.transportSends, p.received, p.duplicates,
			p.storeFallbacks,
			p.escalations, p.attemptCount, p.bridgeCalls,
		)
	})
}

func result(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// SchedulerMetrics implementation

// RecordStateTransition counts the transition and updates the state gauge.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.currentState.Set(float64(to))
}

// RecordTick counts a tick and records the aggregate age.
func (p *PrometheusCollector) RecordTick(state types.State, age float64, stale bool) {
	p.ensureRegistered()
	outcome := "fresh"
	if stale {
		outcome = "stale"
	}
	p.ticks.WithLabelValues(state.String(), outcome).Inc()
	p.aggregateAge.Set(age)
}

// RecordCadenceChange counts a power-driven cadence rewrite.
func (p *PrometheusCollector) RecordCadenceChange(power types.PowerState, interval float64) {
	p.ensureRegistered()
	p.cadenceChanges.WithLabelValues(power.String()).Inc()
	p.baseInterval.Set(interval)
}

// HeartbeatMetrics implementation

// RecordHeartbeat counts a heartbeat by result. The instance id is not used as a
// label because it changes on every run.
func (p *PrometheusCollector) RecordHeartbeat(_ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(result(success)).Inc()
}

// RelayMetrics implementation

// SetActiveTransports sets the active transport gauge.
func (p *PrometheusCollector) SetActiveTransports(count int) {
	p.ensureRegistered()
	p.activeTransports.Set(float64(count))
}

// RecordTransportSend counts a send by transport and result.
func (p *PrometheusCollector) RecordTransportSend(transport string, success bool) {
	p.ensureRegistered()
	p.transportSends.WithLabelValues(transport, result(success)).Inc()
}

// RecordMessageReceived counts an inbound message.
func (p *PrometheusCollector) RecordMessageReceived(transport string, msgType types.MessageType) {
	p.ensureRegistered()
	p.received.WithLabelValues(transport, string(msgType)).Inc()
}

// RecordDuplicateDelivery counts a duplicate inbound message.
func (p *PrometheusCollector) RecordDuplicateDelivery(transport string) {
	p.ensureRegistered()
	p.duplicates.WithLabelValues(transport).Inc()
}

// StoreMetrics implementation

// RecordStoreFallback counts a backend failure.
func (p *PrometheusCollector) RecordStoreFallback(operation string) {
	p.ensureRegistered()
	p.storeFallbacks.WithLabelValues(operation).Inc()
}

// RecoveryMetrics implementation

// RecordEscalation counts an escalation and updates the attempt gauge.
func (p *PrometheusCollector) RecordEscalation(attemptCount int, suppressed bool) {
	p.ensureRegistered()
	p.escalations.WithLabelValues(strconv.FormatBool(suppressed)).Inc()
	p.attemptCount.Set(float64(attemptCount))
}

// RecordBridgeCall counts a bridge call by operation and result.
func (p *PrometheusCollector) RecordBridgeCall(operation string, success bool) {
	p.ensureRegistered()
	p.bridgeCalls.WithLabelValues(operation, result(success)).Inc()
}
