package workflow

import (
	"fmt"
	"sort"
)

// State represents a named state of a workflow state machine
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// StateSet declares the states of one workflow type: every member,
// the initial state and the terminal states.
type StateSet struct {
	initial State
	states  map[State]bool
	final   map[State]bool
}

// NewStateSet creates a state set. It panics when the initial or a final
// state is not one of the declared states, since that is a programming error
// in a workflow definition.
func NewStateSet(initial State, final []State, states ...State) StateSet {
	set := StateSet{
		initial: initial,
		states:  make(map[State]bool, len(states)),
		final:   make(map[State]bool, len(final)),
	}

	for _, s := range states {
		set.states[s] = true
	}

	if !set.states[initial] {
		panic(fmt.Sprintf("initial state %s is not a declared state", initial))
	}

	if len(final) == 0 {
		panic("a state set needs at least one final state")
	}

	for _, s := range final {
		if !set.states[s] {
			panic(fmt.Sprintf("final state %s is not a declared state", s))
		}
		set.final[s] = true
	}

	return set
}

// Initial returns the state a new workflow starts in
func (s StateSet) Initial() State {
	return s.initial
}

// Contains returns true if the state is a member of the set
func (s StateSet) Contains(state State) bool {
	return s.states[state]
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s StateSet) IsTerminal(state State) bool {
	return s.final[state]
}

// IsActive reports whether a workflow sitting in state can still receive events
func (s StateSet) IsActive(state State) bool {
	return !s.IsTerminal(state)
}

// States returns all declared states in lexical order
func (s StateSet) States() []State {
	states := make([]State, 0, len(s.states))
	for state := range s.states {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}
