package goingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to State
		valid    bool
	}{
		{StateUploading, StateVerifying, true},
		{StateVerifying, StateAwaitingSteps, true},
		{StateAwaitingSteps, StateDone, true},
		{StateUploading, StateCancelled, true},
		{StateAwaitingSteps, StateFailed, true},
		{StateUploading, StateDone, false},
		{StateDone, StateFailed, false},
		{StateFailed, StateUploading, false},
		{StateCancelled, StateCancelled, false},
	}
	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if c.valid {
			assert.NoErrorf(t, err, "transition %s -> %s expected to be valid", c.from, c.to)
		} else {
			assert.Truef(t, errors.Is(err, ErrInvalidTransition), "transition %s -> %s expected to be invalid", c.from, c.to)
		}
	}
}

func TestIsTerminalState(t *testing.T) {
	for _, s := range []State{StateDone, StateFailed, StateCancelled} {
		assert.Truef(t, IsTerminalState(s), "%s expected to be terminal", s)
	}
	for _, s := range []State{StateUploading, StateVerifying, StateAwaitingSteps} {
		assert.Falsef(t, IsTerminalState(s), "%s not expected to be terminal", s)
	}
}

func TestUnitStateHistory(t *testing.T) {
	// ARRANGE
	s := newUnitState()

	// ACT
	_ = s.to(StateVerifying)
	err := s.to(StateDone)

	// ASSERT
	assert.Errorf(t, err, "skipping the awaiting state must fail")
	assert.Equalf(t, StateVerifying, s.current, "current state mismatch")
	assert.Equalf(t, []State{StateUploading, StateVerifying}, s.history, "history mismatch")
}
