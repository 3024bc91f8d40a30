package commissioning

import "time"

// RetryDelay is the wait between a failed steering attempt and the next one.
const RetryDelay = 1000 * time.Millisecond

// State is the commissioning status of the device.
type State uint8

const (
	StateUninitialized State = iota
	StateStackReady
	StateSteering
	StateJoined
	StateSteeringFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateStackReady:
		return "STACK_READY"
	case StateSteering:
		return "STEERING"
	case StateJoined:
		return "JOINED"
	case StateSteeringFailed:
		return "STEERING_FAILED"
	default:
		return "UNKNOWN"
	}
}
