package companion

// State is the lifecycle state of the companion process.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// AllStates lists every state, in lifecycle order.
var AllStates = []State{StateIdle, StateStarting, StateStarted, StateStopped, StateError}

var validTransitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateStarted, StateStopped, StateError},
	StateStarted:  {StateStopped, StateError},
	StateStopped:  {StateStarting},
	StateError:    {StateStarting},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the state belongs to a running lifecycle.
func (s State) Live() bool {
	return s == StateStarting || s == StateStarted
}
