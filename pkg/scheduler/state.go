package scheduler

// State is the connection lifecycle state of a Scheduler.
//
//	Disconnected -> Connecting -> Ready -> Draining -> Disconnected
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDraining
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}
