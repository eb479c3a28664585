package types

import (
	"encoding/json"
	"time"
)

// MessageType identifies the purpose of a relay message.
type MessageType string

const (
	// MessageHeartbeat announces that the sender was alive at Timestamp.
	MessageHeartbeat MessageType = "heartbeat"

	// MessageRestart asks every sibling instance to reload itself.
	MessageRestart MessageType = "restart"

	// MessageAck acknowledges a restart request. Payload carries the request timestamp.
	MessageAck MessageType = "ack"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageHeartbeat, MessageRestart, MessageAck:
		return true
	default:
		return false
	}
}

// Message is the unit carried by every transport.
//
// Timestamp is encoded as unix milliseconds. Sender is the InstanceId of the
// originating watchdog and is used to drop self-echo on broadcast transports.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Sender    string          `json:"sender,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message of the given type stamped with ts.
func NewMessage(typ MessageType, sender string, ts time.Time) Message {
	return Message{Type: typ, Timestamp: ts.UnixMilli(), Sender: sender}
}

// Time returns the message timestamp as time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
