package pipeline

// State is a session's position in its lifecycle. Transitions only move
// forward; the three terminal states are Complete, Errored, and Cancelled.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFinalizing
	StateTranscribing
	StateRewriting
	StateDelivering
	StateComplete
	StateErrored
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateCapturing:    "capturing",
	StateFinalizing:   "finalizing",
	StateTranscribing: "transcribing",
	StateRewriting:    "rewriting",
	StateDelivering:   "delivering",
	StateComplete:     "complete",
	StateErrored:      "errored",
	StateCancelled:    "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateErrored || s == StateCancelled
}
