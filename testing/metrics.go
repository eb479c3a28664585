package testing

import (
	"sync"

	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/types"
)

// RecordingMetrics is a MetricsCollector that counts selected events for assertions.
//
// Events not tracked here fall through to the embedded no-op collector.
type RecordingMetrics struct {
	*metrics.NopMetrics

	mu          sync.Mutex
	transitions [][2]types.State
	ticks       int
	stale       int
	heartbeats  map[bool]int
	active      int
	sends       map[string]int
	received    map[string]int
	duplicates  map[string]int
	fallbacks   map[string]int
	escalations []bool
	cadence     []types.PowerState
}

var _ types.MetricsCollector = (*RecordingMetrics)(nil)

// NewRecordingMetrics creates an empty recorder.
func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		NopMetrics: metrics.NewNop(),
		heartbeats: make(map[bool]int),
		sends:      make(map[string]int),
		received:   make(map[string]int),
		duplicates: make(map[string]int),
		fallbacks:  make(map[string]int),
	}
}

func (m *RecordingMetrics) RecordStateTransition(from, to types.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, [2]types.State{from, to})
}

func (m *RecordingMetrics) RecordTick(_ types.State, _ float64, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	if stale {
		m.stale++
	}
}

func (m *RecordingMetrics) RecordCadenceChange(power types.PowerState, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cadence = append(m.cadence, power)
}

func (m *RecordingMetrics) RecordHeartbeat(_ string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[success]++
}

func (m *RecordingMetrics) SetActiveTransports(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = count
}

func (m *RecordingMetrics) RecordTransportSend(transport string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[transport]++
}

func (m *RecordingMetrics) RecordMessageReceived(transport string, _ types.MessageType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[transport]++
}

func (m *RecordingMetrics) RecordDuplicateDelivery(transport string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates[transport]++
}

func (m *RecordingMetrics) RecordStoreFallback(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[operation]++
}

func (m *RecordingMetrics) RecordEscalation(_ int, suppressed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, suppressed)
}

// Transitions returns the recorded state transitions in order.
func (m *RecordingMetrics) Transitions() [][2]types.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]types.State(nil), m.transitions...)
}

// Ticks returns the number of ticks and how many of them were stale.
func (m *RecordingMetrics) Ticks() (total, stale int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks, m.stale
}

// Heartbeats returns the number of successful and failed heartbeats.
func (m *RecordingMetrics) Heartbeats() (ok, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats[true], m.heartbeats[false]
}

// ActiveTransports returns the last active transport count.
func (m *RecordingMetrics) ActiveTransports() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Sends returns the number of sends on transport.
func (m *RecordingMetrics) Sends(transport string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends[transport]
}

// Received returns the number of inbound messages on transport.
func (m *RecordingMetrics) Received(transport string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received[transport]
}

// Duplicates returns the total number of duplicate deliveries.
func (m *RecordingMetrics) Duplicates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.duplicates {
		n += c
	}
	return n
}

// Fallbacks returns the number of store fallbacks for operation.
func (m *RecordingMetrics) Fallbacks(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbacks[operation]
}

// Escalations returns the suppressed flag of each recorded escalation.
func (m *RecordingMetrics) Escalations() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.escalations...)
}

// CadenceChanges returns the power states of recorded cadence rewrites.
func (m *RecordingMetrics) CadenceChanges() []types.PowerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PowerState(nil), m.cadence...)
}
