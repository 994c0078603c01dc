package state

import (
	"fmt"
	"slices"
)

// Type represents a message lifecycle state.
type Type string

const (
	Received  Type = "RECEIVED"  // inbound, terminal
	Sending   Type = "SENDING"   // outbound initial state
	Sent      Type = "SENT"      // transport accepted the hand-off
	Delivered Type = "DELIVERED" // delivery report confirmed receipt
	Error     Type = "ERROR"     // definitive transport failure
	Info      Type = "INFO"      // system-generated, terminal
)

// validTransitions defines the legal outbound lifecycle. RECEIVED,
// DELIVERED and INFO have no outgoing edges. ERROR re-enters SENDING only
// through an explicit retry.
var validTransitions = map[Type][]Type{
	Sending: {Sent, Error},
	Sent:    {Delivered},
	Error:   {Sending},
}

// Valid reports whether t is a known message type.
func Valid(t Type) bool {
	switch t {
	case Received, Sending, Sent, Delivered, Error, Info:
		return true
	}
	return false
}

// Terminal reports whether t has no outgoing transitions under normal
// operation. ERROR is terminal only when auto-retry is disabled, so it is
// not listed here.
func Terminal(t Type) bool {
	return t == Received || t == Delivered || t == Info
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Type) bool {
	return slices.Contains(validTransitions[from], to)
}

// Transition validates from -> to and returns the new state, or an error
// if the edge is not in the lifecycle.
func Transition(from, to Type) (Type, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return to, nil
}
