package domain

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusRefunded   Status = "REFUNDED"
	StatusFailed     Status = "FAILED"
)

// Transition is a requested lifecycle step.
type Transition string

const (
	TransitionAuthorize Transition = "authorize"
	TransitionCapture   Transition = "capture"
	TransitionRefund    Transition = "refund"
	TransitionFail      Transition = "fail"
)

// ErrInvalidStateTransition is the sentinel behind every InvalidTransitionError.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// InvalidTransitionError reports a transition the current status does not allow.
type InvalidTransitionError struct {
	Current   Status
	Requested Transition
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s payment in state %s", ErrInvalidStateTransition, e.Requested, e.Current)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// transitions is the whole state machine. Anything not listed is rejected.
var transitions = map[Status]map[Transition]Status{
	StatusCreated: {
		TransitionAuthorize: StatusAuthorized,
		TransitionFail:      StatusFailed,
	},
	StatusAuthorized: {
		TransitionCapture: StatusCaptured,
		TransitionFail:    StatusFailed,
	},
	StatusCaptured: {
		TransitionRefund: StatusRefunded,
	},
}

// Next returns the status reached by applying t to current, or an *InvalidTransitionError.
// It is pure: it inspects nothing but its arguments.
func Next(current Status, t Transition) (Status, error) {
	if next, ok := transitions[current][t]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{Current: current, Requested: t}
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusAuthorized, StatusCaptured, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// ParseTransition maps a transition name onto a Transition.
func ParseTransition(s string) (Transition, bool) {
	switch t := Transition(s); t {
	case TransitionAuthorize, TransitionCapture, TransitionRefund, TransitionFail:
		return t, true
	}
	return "", false
}
