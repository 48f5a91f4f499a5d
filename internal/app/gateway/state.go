package gateway

// State is the lifecycle state of a connection.
type State int

const (
	StateConnecting State = iota
	StateJoining
	StateJoined
	StateLeaving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// transitions lists the allowed moves of the connection state machine.
var transitions = map[State][]State{
	StateConnecting: {StateJoining, StateClosed},
	StateJoining:    {StateJoined, StateConnecting, StateClosed},
	StateJoined:     {StateLeaving, StateClosed},
	StateLeaving:    {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
