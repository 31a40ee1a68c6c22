package server

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateExecuting    State = "executing"
	StateClosed       State = "closed"
)

func (s State) String() string {
	return string(s)
}

// Transition records a state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// StateCallback observes state changes. It is invoked outside the Session lock.
type StateCallback func(id string, from, to State)

var allowedTransitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateConnected, StateDisconnected, StateClosed},
	StateConnected:    {StateExecuting, StateClosed},
	StateExecuting:    {StateConnected, StateClosed},
}

// CanTransition reports whether from -> to is a legal move. Closed is terminal.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("invalid session transition %s -> %s", from, to)
}
