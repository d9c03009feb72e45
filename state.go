package goingest

import "fmt"

// State is the completion state of a unit import.
type State string

const (
	StateUploading     State = "uploading"
	StateVerifying     State = "verifying"
	StateAwaitingSteps State = "awaiting-steps"
	StateDone          State = "done"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// String converts a state to string.
func (s State) String() string {
	return string(s)
}

// stateTransition represents a state transition.
type stateTransition struct {
	From State
	To   State
}

// validTransitions defines all valid state transitions of a unit import.
var validTransitions = map[stateTransition]bool{
	{StateUploading, StateVerifying}: true,
	{StateUploading, StateFailed}:    true,

	{StateVerifying, StateAwaitingSteps}: true,
	{StateVerifying, StateFailed}:        true,

	{StateAwaitingSteps, StateDone}:   true,
	{StateAwaitingSteps, StateFailed}: true,

	// cancellation is possible from any non-terminal state
	{StateUploading, StateCancelled}:     true,
	{StateVerifying, StateCancelled}:     true,
	{StateAwaitingSteps, StateCancelled}: true,
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to State) error {
	if !validTransitions[stateTransition{From: from, To: to}] {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminalState checks if a state is terminal (no further transitions).
func IsTerminalState(s State) bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// unitState tracks the state of a single unit import.
type unitState struct {
	current State
	history []State
}

// newUnitState returns a state starting at uploading.
func newUnitState() *unitState {
	return &unitState{current: StateUploading, history: []State{StateUploading}}
}

// to moves the unit to the next state.
func (s *unitState) to(next State) error {
	if err := ValidateTransition(s.current, next); err != nil {
		return err
	}
	s.current = next
	s.history = append(s.history, next)
	return nil
}
