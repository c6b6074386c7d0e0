// Package lifecycle tracks the state of a running capture pipeline and turns
// its event bus into state transitions.
//
// States: Uninitialized → Playing → (EOS | Error) → Null. Null is terminal.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a transition is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

// State is the pipeline handle state.
type State int

const (
	StateUninitialized State = iota
	StatePlaying
	StateEOS
	StateError
	StateNull
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePlaying:
		return "playing"
	case StateEOS:
		return "eos"
	case StateError:
		return "error"
	case StateNull:
		return "null"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateNull
}

var transitions = map[State][]State{
	StateUninitialized: {StatePlaying, StateNull},
	StatePlaying:       {StateEOS, StateError, StateNull},
	StateEOS:           {StateNull},
	StateError:         {StateNull},
}

// Machine is a mutex-guarded state holder that only allows the transitions above.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewMachine returns a machine in StateUninitialized. onChange may be nil; it is
// called with the machine lock held and must not call back into the machine.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state or returns ErrInvalidTransition.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	for _, allowed := range transitions[from] {
		if allowed == to {
			m.state = to
			if m.onChange != nil {
				m.onChange(from, to)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
