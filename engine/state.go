package engine

import "fmt"

// State is the lifecycle position of one document's conflict. There is no
// failed state: an unresolved conflict always returns to Detected or Queued.
type State uint8

const (
	StateDetected State = iota + 1
	StateAutoResolving
	StateQueued
	StateResolving
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateDetected:
		return "DETECTED"
	case StateAutoResolving:
		return "AUTO_RESOLVING"
	case StateQueued:
		return "QUEUED"
	case StateResolving:
		return "RESOLVING"
	case StateResolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// validTransitions lists the allowed state changes.
var validTransitions = map[State][]State{
	0:                  {StateDetected, StateResolving},
	StateDetected:      {StateAutoResolving, StateQueued},
	StateAutoResolving: {StateResolving},
	StateQueued:        {StateResolving, StateDetected},
	StateResolving:     {StateResolved, StateDetected},
	StateResolved:      {StateDetected},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
