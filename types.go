package lifeline

import (
	"time"

	"github.com/arloliu/lifeline/internal/recovery"
	"github.com/arloliu/lifeline/internal/scheduler"
	"github.com/arloliu/lifeline/internal/signals"
	"github.com/arloliu/lifeline/internal/store"
	"github.com/arloliu/lifeline/internal/transport"
	"github.com/arloliu/lifeline/types"
)

// Re-export types from the types package.
//
// Internal packages depend on `types` only, while callers get the
// convenient `lifeline.State`, `lifeline.Message`, etc.
type (
	State         = types.State
	Message       = types.Message
	MessageType   = types.MessageType
	PowerState    = types.PowerState
	Escalation    = types.Escalation
	RecoveryState = types.RecoveryState
)

// Re-export interfaces from the types package for convenience.
type (
	RecoveryBridge   = types.RecoveryBridge
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Extension points implemented by internal packages.
type (
	// StoreBackend is a key/value backend for the heartbeat store.
	StoreBackend = store.Backend

	// TransportCandidate is a relay transport probed at start.
	TransportCandidate = transport.Candidate

	// Reloader performs the self-reload step of an escalation.
	Reloader = recovery.Reloader

	// FuncReloader adapts a function to Reloader.
	FuncReloader = recovery.FuncReloader

	// Snapshot is a copy of the scheduler's observable state.
	Snapshot = scheduler.Snapshot

	// VisibilitySource publishes foreground visibility changes.
	VisibilitySource = signals.Source[bool]

	// PowerSource publishes power state changes.
	PowerSource = signals.Source[types.PowerState]
)

// Re-export State constants from the types package.
const (
	StateStopped  = types.StateStopped
	StateActive   = types.StateActive
	StateDegraded = types.StateDegraded
)

// Re-export MessageType constants from the types package.
const (
	MessageHeartbeat = types.MessageHeartbeat
	MessageRestart   = types.MessageRestart
	MessageAck       = types.MessageAck
)

// Re-export PowerState constants from the types package.
const (
	PowerUnknown  = types.PowerUnknown
	PowerCharging = types.PowerCharging
	PowerBattery  = types.PowerBattery
)

// Broadcaster is a VisibilitySource or PowerSource driven by Publish.
type Broadcaster[T any] = signals.Broadcaster[T]

// NewBroadcaster creates a Broadcaster with no subscribers.
//
// Example:
//
//	vis := lifeline.NewBroadcaster[bool]()
//	wd, _ := lifeline.New(&cfg, lifeline.WithVisibilitySource(vis))
//	vis.Publish(false) // enter Degraded
func NewBroadcaster[T any]() *Broadcaster[T] {
	return signals.NewBroadcaster[T]()
}

// NewMessage builds a relay message of the given type stamped with ts.
func NewMessage(typ MessageType, sender string, ts time.Time) Message {
	return types.NewMessage(typ, sender, ts)
}

// AggregateKey returns the store key holding the aggregate heartbeat, in
// milliseconds since the epoch, for the given Store.Prefix.
func AggregateKey(prefix string) string {
	return store.AggregateKey(prefix)
}
