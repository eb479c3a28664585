package types

// PowerState is the value of the external power signal.
type PowerState int

const (
	// PowerUnknown means no power signal has been observed yet.
	PowerUnknown PowerState = iota

	// PowerCharging means the host is on external power.
	PowerCharging

	// PowerBattery means the host is running on battery.
	PowerBattery
)

// String returns the string representation of the power state.
func (p PowerState) String() string {
	switch p {
	case PowerCharging:
		return "charging"
	case PowerBattery:
		return "battery"
	default:
		return "unknown"
	}
}
