// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/lifeline/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	wd, _ := lifeline.New(&cfg, lifeline.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// SchedulerMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State) {}

// RecordTick discards the tick metric.
func (n *NopMetrics) RecordTick(_ /* state */ types.State, _ /* age */ float64, _ /* stale */ bool) {}

// RecordCadenceChange discards the cadence change metric.
func (n *NopMetrics) RecordCadenceChange(_ /* power */ types.PowerState, _ /* interval */ float64) {}

// HeartbeatMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* instanceID */ string, _ /* success */ bool) {}

// RelayMetrics implementation

// SetActiveTransports discards the active transport gauge.
func (n *NopMetrics) SetActiveTransports(_ /* count */ int) {}

// RecordTransportSend discards the send metric.
func (n *NopMetrics) RecordTransportSend(_ /* transport */ string, _ /* success */ bool) {}

// RecordMessageReceived discards the receive metric.
func (n *NopMetrics) RecordMessageReceived(_ /* transport */ string, _ /* msgType */ types.MessageType) {
}

// RecordDuplicateDelivery discards the duplicate delivery metric.
func (n *NopMetrics) RecordDuplicateDelivery(_ /* transport */ string) {}

// StoreMetrics implementation

// RecordStoreFallback discards the fallback metric.
func (n *NopMetrics) RecordStoreFallback(_ /* operation */ string) {}

// RecoveryMetrics implementation

// RecordEscalation discards the escalation metric.
func (n *NopMetrics) RecordEscalation(_ /* attemptCount */ int, _ /* suppressed */ bool) {}

// RecordBridgeCall discards the bridge call metric.
func (n *NopMetrics) RecordBridgeCall(_ /* operation */ string, _ /* success */ bool) {}
