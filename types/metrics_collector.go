package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	SchedulerMetrics
	HeartbeatMetrics
	RelayMetrics
	StoreMetrics
	RecoveryMetrics
}

// SchedulerMetrics defines metrics for the watchdog scheduler.
type SchedulerMetrics interface {
	// RecordStateTransition records a scheduler state transition event.
	RecordStateTransition(from, to State)

	// RecordTick records one scheduler tick.
	//
	// Parameters:
	//   - state: State the tick was evaluated in
	//   - age: Aggregate age in seconds (negative when no heartbeat was observed yet)
	//   - stale: true if the tick escalated
	RecordTick(state State, age float64, stale bool)

	// RecordCadenceChange records a cadence rewrite by the power policy.
	//
	// Parameters:
	//   - power: New power state
	//   - interval: New base interval in seconds
	RecordCadenceChange(power PowerState, interval float64)
}

// HeartbeatMetrics defines metrics for the liveness monitor.
type HeartbeatMetrics interface {
	// RecordHeartbeat records a heartbeat event.
	//
	// Parameters:
	//   - instanceID: The ID of the instance publishing the heartbeat
	//   - success: true if the heartbeat reached the store and at least one transport
	RecordHeartbeat(instanceID string, success bool)
}

// RelayMetrics defines metrics for the channel relay.
type RelayMetrics interface {
	// SetActiveTransports sets the number of transports that passed the startup probe.
	SetActiveTransports(count int)

	// RecordTransportSend records a send on one transport.
	RecordTransportSend(transport string, success bool)

	// RecordMessageReceived records an inbound message on one transport.
	RecordMessageReceived(transport string, msgType MessageType)

	// RecordDuplicateDelivery records an inbound message already seen on another transport.
	RecordDuplicateDelivery(transport string)
}

// StoreMetrics defines metrics for the heartbeat store.
type StoreMetrics interface {
	// RecordStoreFallback records a backend failure served from memory.
	//
	// Parameters:
	//   - operation: "get" or "set"
	RecordStoreFallback(operation string)
}

// RecoveryMetrics defines metrics for the recovery chain.
type RecoveryMetrics interface {
	// RecordEscalation records one escalation.
	//
	// Parameters:
	//   - attemptCount: Persisted attempt count after the escalation
	//   - suppressed: true if self-reload was suppressed by the attempt guard
	RecordEscalation(attemptCount int, suppressed bool)

	// RecordBridgeCall records a recovery bridge call.
	//
	// Parameters:
	//   - operation: "restart_process" or "enable_auto_restart"
	//   - success: true if the bridge reported success
	RecordBridgeCall(operation string, success bool)
}
